package traffic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkIsSymmetric(t *testing.T) {
	req := &Request{HTTPMethod: "GET", URI: "/"}
	primary := NewPair(req, &Response{StatusCode: 200})
	shadow := NewPair(req, &Response{StatusCode: 404})

	Link(primary, shadow)

	assert.Same(t, shadow, primary.Corresponding)
	assert.Same(t, primary, shadow.Corresponding)
	assert.Same(t, primary.Request, shadow.Request)
}

func TestStreamAppendKeepsOrder(t *testing.T) {
	var s RequestResponseStream
	for i := 0; i < 3; i++ {
		s.Append(NewPair(&Request{URI: string(rune('a' + i))}, &Response{}))
	}
	require.Equal(t, 3, s.Len())
	assert.Equal(t, "a", s[0].Request.URI)
	assert.Equal(t, "c", s[2].Request.URI)
}

func TestBodyVariants(t *testing.T) {
	raw := RawBody("\x1f\x8bnot json")
	assert.Equal(t, BodyKindRaw, raw.Kind())
	s, ok := raw.Raw()
	require.True(t, ok)
	assert.Equal(t, "\x1f\x8bnot json", s)
	_, ok = raw.JSON()
	assert.False(t, ok)

	js := JSONBody(map[string]interface{}{"name": "x"})
	assert.True(t, js.IsJSON())
	assert.Equal(t, `{"name":"x"}`, js.String())
	_, ok = js.Raw()
	assert.False(t, ok)

	var zero Body
	assert.Equal(t, BodyKindRaw, zero.Kind())
	assert.Equal(t, "", zero.String())
}

func TestPairMarshalJSON(t *testing.T) {
	req := &Request{
		HTTPMethod: "GET",
		URI:        "/",
		Headers:    Headers{"Accept": "*/*"},
		Body:       RawBody(""),
	}
	pair := NewPair(req, &Response{
		StatusCode: 200,
		Headers:    Headers{},
		Body:       JSONBody(map[string]interface{}{"ok": true}),
		Latency:    14,
	})
	Link(pair, NewPair(req, &Response{StatusCode: 200}))

	buf, err := json.Marshal(pair)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf, &decoded))
	resp := decoded["response"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"ok": true}, resp["body"])
	assert.EqualValues(t, 14, resp["latency"])
	assert.NotContains(t, decoded, "Corresponding")
}

func TestHeadersClone(t *testing.T) {
	h := Headers{"content-type": "text/plain"}
	c := h.Clone()
	c["content-type"] = "application/json"
	assert.Equal(t, "text/plain", h["content-type"])
	assert.Nil(t, Headers(nil).Clone())
}

func TestHeadersGet(t *testing.T) {
	h := Headers{"Content-Type": "text/html", "x-id": "7"}
	assert.Equal(t, "text/html", h.Get("content-type"))
	assert.Equal(t, "text/html", h.Get("CONTENT-TYPE"))
	assert.Equal(t, "7", h.Get("x-id"))
	assert.Equal(t, "", h.Get("accept"))
	assert.Equal(t, "", Headers(nil).Get("accept"))
}
