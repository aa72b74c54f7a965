package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onvifsimple/gover/backend/soap"
	"onvifsimple/gover/backend/xmltree"
)

func TestRenderEscapesText(t *testing.T) {
	out, err := Render("media_stream_uri", Text("URI", "rtsp://cam/live?a=1&b=<2>"))
	require.NoError(t, err)
	assert.Contains(t, out, "<tt:Uri>rtsp://cam/live?a=1&amp;b=&lt;2&gt;</tt:Uri>")
}

func TestRenderKeepsRawFragments(t *testing.T) {
	out, err := Render("envelope", XML("BODY", "<tds:Ping/>"))
	require.NoError(t, err)
	assert.Contains(t, out, "<SOAP-ENV:Body><tds:Ping/></SOAP-ENV:Body>")
}

func TestRenderMissingPlaceholder(t *testing.T) {
	_, err := Render("media_stream_uri")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "%URI%")
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, err := Render("no_such_template")
	require.Error(t, err)
}

func TestEach(t *testing.T) {
	out, err := Each("media_stream_uri", []string{"a", "b"}, func(_ int, uri string) []Var {
		return []Var{Text("URI", uri)}
	})
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "<trt:GetStreamUriResponse>"))
}

func TestResponseIsWellFormed(t *testing.T) {
	out, err := Response("media_stream_uri", Text("URI", "rtsp://cam/live"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), `<?xml version="1.0" encoding="UTF-8"?>`))

	doc, err := xmltree.Parse(out)
	require.NoError(t, err)
	uri, ok := xmltree.FindText("Uri", doc.Root())
	require.True(t, ok)
	assert.Equal(t, "rtsp://cam/live", uri)
}

func TestEmptyHasBareBody(t *testing.T) {
	out, err := Empty()
	require.NoError(t, err)
	assert.Contains(t, string(out), "<SOAP-ENV:Body></SOAP-ENV:Body>")
}

func TestFault(t *testing.T) {
	out, err := Fault(soap.NoToken(soap.PTZService))
	require.NoError(t, err)

	doc, err := xmltree.Parse(out)
	require.NoError(t, err)
	fault := xmltree.FindNode("Fault", doc.Root())
	require.NotNil(t, fault)

	code := xmltree.FirstChild(fault, "Code")
	require.NotNil(t, code)
	value, ok := xmltree.FindTextIn("Value", code)
	require.True(t, ok)
	assert.Equal(t, "SOAP-ENV:Sender", value)

	subcode := xmltree.FindNodeIn("Subcode", code)
	require.NotNil(t, subcode)
	value, ok = xmltree.FindTextIn("Value", subcode)
	require.True(t, ok)
	assert.Equal(t, "ter:NoToken", value)
	assert.Contains(t, string(out), "<SOAP-ENV:Value>ter:NoToken</SOAP-ENV:Value>")
}

func TestRequestEnvelope(t *testing.T) {
	out, err := Request("", `<tds:GetScopes xmlns:tds="http://www.onvif.org/ver10/device/wsdl"/>`)
	require.NoError(t, err)

	doc, err := xmltree.Parse(out)
	require.NoError(t, err)
	env, err := xmltree.ParseEnvelope(doc)
	require.NoError(t, err)
	assert.Equal(t, "GetScopes", env.Method)
	assert.NotNil(t, env.Header)
}
