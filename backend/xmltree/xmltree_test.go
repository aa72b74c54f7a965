package xmltree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleEnvelope = `<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" xmlns:tptz="http://www.onvif.org/ver20/ptz/wsdl" xmlns:tt="http://www.onvif.org/ver10/schema">
  <s:Header>
    <Security><UsernameToken><Username>admin</Username><Password></Password></UsernameToken></Security>
  </s:Header>
  <s:Body>
    <tptz:ContinuousMove>
      <tptz:ProfileToken>Profile_0</tptz:ProfileToken>
      <tptz:Velocity>
        <tt:PanTilt x="0.5" y="-0.25" space="http://www.onvif.org/ver10/tptz/PanTiltSpaces/VelocityGenericSpace"/>
        <tt:Zoom x="0"/>
      </tptz:Velocity>
      <MyToken>decoy</MyToken>
    </tptz:ContinuousMove>
  </s:Body>
</s:Envelope>`

func mustParse(t *testing.T, raw string) *Document {
	t.Helper()
	doc, err := Parse([]byte(raw))
	require.NoError(t, err)
	return doc
}

func TestMatches(t *testing.T) {
	tests := []struct {
		tag  string
		name string
		want bool
	}{
		{"Body", "Body", true},
		{"soap:Body", "Body", true},
		{"a:b:Body", "Body", true},
		{":Body", "Body", false},
		{"MyToken", "Token", false},
		{"x:MyToken", "Token", false},
		{"body", "Body", false},
		{"soap:Body", "soap:Body", true},
	}
	for _, tt := range tests {
		t.Run(tt.tag+"/"+tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.tag, tt.name))
		})
	}
}

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope(mustParse(t, sampleEnvelope))
	require.NoError(t, err)
	assert.Equal(t, "ContinuousMove", env.Method)
	assert.Equal(t, "s:Header", env.Header.Tag())
	assert.Equal(t, "s:Body", env.Body.Tag())
	assert.Equal(t, "tptz:ContinuousMove", env.Payload.Tag())
}

func TestParseEnvelopeMalformed(t *testing.T) {
	_, err := Parse([]byte("<Envelope <Body>"))
	require.Error(t, err)

	_, err = Parse([]byte("not xml at all"))
	require.Error(t, err)

	_, err = ParseEnvelope(mustParse(t, `<Envelope><Header/></Envelope>`))
	require.ErrorIs(t, err, ErrNoBody)

	_, err = ParseEnvelope(mustParse(t, `<Envelope><Body>  </Body></Envelope>`))
	require.ErrorIs(t, err, ErrNoMethod)
}

func TestFindText(t *testing.T) {
	env, err := ParseEnvelope(mustParse(t, sampleEnvelope))
	require.NoError(t, err)

	token, ok := FindText("ProfileToken", env.Body)
	require.True(t, ok)
	assert.Equal(t, "Profile_0", token)

	user, ok := FindText("Username", env.Header)
	require.True(t, ok)
	assert.Equal(t, "admin", user)

	password, ok := FindText("Password", env.Header)
	require.True(t, ok)
	assert.Empty(t, password)

	_, ok = FindText("Nonce", env.Header)
	assert.False(t, ok)

	_, ok = FindText("Token", env.Body)
	assert.False(t, ok, "suffix must follow a colon")
}

func TestFindTextFirstHitWins(t *testing.T) {
	doc := mustParse(t, `<Envelope><Body><Op><A><Name>first</Name></A><Name>second</Name></Op></Body></Envelope>`)
	body := FirstChild(doc.Root(), "Body")
	got, ok := FindText("Name", body)
	require.True(t, ok)
	assert.Equal(t, "first", got)
}

func TestFindNodeAndAttribute(t *testing.T) {
	env, err := ParseEnvelope(mustParse(t, sampleEnvelope))
	require.NoError(t, err)

	velocity := FindNode("Velocity", env.Body)
	require.NotNil(t, velocity)

	panTilt := FindNodeIn("PanTilt", velocity)
	require.NotNil(t, panTilt)
	x, ok := Attribute(panTilt, "x")
	require.True(t, ok)
	assert.Equal(t, "0.5", x)

	_, ok = Attribute(panTilt, "z")
	assert.False(t, ok)

	space, ok := Attribute(panTilt, "space")
	require.True(t, ok)
	assert.Contains(t, space, "VelocityGenericSpace")

	assert.Nil(t, FindNodeIn("Velocity", velocity), "FindNodeIn skips the parent itself")
	assert.Same(t, velocity.el, FindNode("Velocity", velocity).el)
}

func TestAttributeExactName(t *testing.T) {
	doc := mustParse(t, `<Root xmlns:a="urn:a" a:space="prefixed"/>`)
	_, ok := Attribute(doc.Root(), "space")
	assert.False(t, ok)
	value, ok := Attribute(doc.Root(), "a:space")
	require.True(t, ok)
	assert.Equal(t, "prefixed", value)
}

func TestLookupsAreRepeatable(t *testing.T) {
	env, err := ParseEnvelope(mustParse(t, sampleEnvelope))
	require.NoError(t, err)
	first, _ := FindText("ProfileToken", env.Body)
	_ = FindNode("Zoom", env.Body)
	_, _ = FindText("Username", env.Header)
	second, _ := FindText("ProfileToken", env.Body)
	assert.Equal(t, first, second)
}
