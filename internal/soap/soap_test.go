package soap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const authenticateEnvelope = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <authenticate xmlns="http://developer.intuit.com/">
      <strUserName>webconnector</strUserName>
      <strPassword>secret</strPassword>
    </authenticate>
  </soap:Body>
</soap:Envelope>`

func TestDecodeAuthenticate(t *testing.T) {
	req, err := Decode(strings.NewReader(authenticateEnvelope))
	require.NoError(t, err)

	assert.Equal(t, "authenticate", req.Verb)
	assert.Equal(t, "webconnector", req.Field("strUserName"))
	assert.Equal(t, "secret", req.Field("strPassword"))
	assert.Empty(t, req.Field("ticket"))
}

func TestDecodeSendRequestXML(t *testing.T) {
	envelope := `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>
		<sendRequestXML xmlns="http://developer.intuit.com/">
			<ticket>42</ticket>
			<strHCPResponse>hcp</strHCPResponse>
			<strCompanyFileName>company.qbw</strCompanyFileName>
			<qbXMLCountry>CA</qbXMLCountry>
			<qbXMLMajorVers>13</qbXMLMajorVers>
			<qbXMLMinorVers>0</qbXMLMinorVers>
		</sendRequestXML>
	</soap:Body></soap:Envelope>`

	req, err := Decode(strings.NewReader(envelope))
	require.NoError(t, err)

	assert.Equal(t, "sendRequestXML", req.Verb)
	assert.Equal(t, "42", req.Field("ticket"))
	assert.Equal(t, "company.qbw", req.Field("strCompanyFileName"))
	assert.Equal(t, "CA", req.Field("qbXMLCountry"))
	assert.Equal(t, "13", req.Field("qbXMLMajorVers"))
}

func TestDecodeIgnoresNestedContent(t *testing.T) {
	// The response parameter carries a whole qbXML document; only the flat
	// text of the field element matters to the envelope layer.
	envelope := `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>
		<receiveResponseXML xmlns="http://developer.intuit.com/">
			<ticket>7</ticket>
			<response>&lt;QBXML&gt;&lt;/QBXML&gt;</response>
			<hresult></hresult>
			<message></message>
		</receiveResponseXML>
	</soap:Body></soap:Envelope>`

	req, err := Decode(strings.NewReader(envelope))
	require.NoError(t, err)
	assert.Equal(t, "receiveResponseXML", req.Verb)
	assert.Equal(t, "<QBXML></QBXML>", req.Field("response"))
}

func TestDecodeEmptyBody(t *testing.T) {
	envelope := `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body></soap:Body></soap:Envelope>`
	_, err := Decode(strings.NewReader(envelope))
	assert.Error(t, err)
}

func TestDecodeNotXML(t *testing.T) {
	_, err := Decode(strings.NewReader("this is not soap"))
	assert.Error(t, err)
}

func TestStringResponse(t *testing.T) {
	got := StringResponse("serverVersion", "1.0")
	assert.Contains(t, got, `<serverVersionResponse xmlns="http://developer.intuit.com/">`)
	assert.Contains(t, got, `<serverVersionResult>1.0</serverVersionResult>`)
	assert.True(t, strings.HasPrefix(got, `<?xml version="1.0" encoding="utf-8"?><soap:Envelope`))
}

func TestStringResponseEscapesQBXML(t *testing.T) {
	got := StringResponse("sendRequestXML", `<?xml version="1.0" ?><QBXML/>`)
	assert.Contains(t, got, "&lt;QBXML/&gt;")
	assert.NotContains(t, got, "<QBXML/>")
}

func TestIntResponse(t *testing.T) {
	got := IntResponse("receiveResponseXML", -1)
	assert.Contains(t, got, `<receiveResponseXMLResult>-1</receiveResponseXMLResult>`)
}

func TestAuthenticateResponse(t *testing.T) {
	got := AuthenticateResponse("42", "nvu")
	assert.Contains(t, got, `<authenticateRet><string>42</string><string>nvu</string></authenticateRet>`)
}

func TestEmptyResponse(t *testing.T) {
	got := EmptyResponse("clientVersion")
	assert.Contains(t, got, `<clientVersionResponse xmlns="http://developer.intuit.com/"/>`)
}
