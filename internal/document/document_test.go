package document

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocument() *Document {
	return &Document{
		RequestKey:         "npub1alice",
		Edition:            4,
		Version:            FormatVersion,
		Nickname:           "Alice",
		PublishesTrustList: true,
		Contexts:           []string{"Freetalk"},
		Properties:         map[string]string{"avatar": "none"},
		Trusts: []TrustEntry{
			{TrusteeRequestKey: "npub1bob", Value: 80, Comment: "friend"},
			{TrusteeRequestKey: "npub1mallory", Value: -50, Comment: "spam"},
		},
	}
}

func TestEncodeDecode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sampleDocument()))
	assert.Contains(t, buf.String(), `<Identity Version="1" Name="Alice" PublishesTrustList="true">`)

	got, err := Decode(&buf, "npub1alice", 4)
	require.NoError(t, err)
	assert.Equal(t, sampleDocument(), got)
}

func TestDecodeRejectsNewerVersion(t *testing.T) {
	xmlDoc := `<WebOfTrust><Identity Version="2" Name="x" PublishesTrustList="false"></Identity></WebOfTrust>`
	_, err := Decode(strings.NewReader(xmlDoc), "npub1x", 1)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(strings.NewReader("<<<"), "npub1x", 1)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestValidateBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Document)
	}{
		{"value above range", func(d *Document) { d.Trusts[0].Value = 101 }},
		{"value below range", func(d *Document) { d.Trusts[0].Value = -101 }},
		{"comment too long", func(d *Document) { d.Trusts[0].Comment = strings.Repeat("c", MaxCommentLength+1) }},
		{"nickname too long", func(d *Document) { d.Nickname = strings.Repeat("n", MaxNicknameLength+1) }},
		{"nickname padded", func(d *Document) { d.Nickname = " Alice" }},
		{"empty context", func(d *Document) { d.Contexts = []string{""} }},
		{"empty property name", func(d *Document) { d.Properties[""] = "v" }},
		{"duplicate trustee", func(d *Document) { d.Trusts[1].TrusteeRequestKey = "npub1bob" }},
		{"missing trustee", func(d *Document) { d.Trusts[0].TrusteeRequestKey = "" }},
		{"trusts without publishing", func(d *Document) { d.PublishesTrustList = false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := sampleDocument()
			tt.mutate(d)
			assert.ErrorIs(t, d.Validate(), ErrMalformed)
		})
	}

	assert.NoError(t, sampleDocument().Validate())
}

func TestDecodeLeavesBoundsToImporter(t *testing.T) {
	xmlDoc := `<WebOfTrust><Identity Version="1" Name="` + strings.Repeat("n", MaxNicknameLength+1) + `" PublishesTrustList="true">
		<Context Name=""/>
		<TrustList>
			<Trust Identity="npub1bob" Value="101" Comment=""/>
			<Trust Identity="npub1bob" Value="10" Comment=""/>
		</TrustList>
	</Identity></WebOfTrust>`
	doc, err := Decode(strings.NewReader(xmlDoc), "npub1x", 3)
	require.NoError(t, err)
	assert.Len(t, doc.Nickname, MaxNicknameLength+1)
	assert.Equal(t, []string{""}, doc.Contexts)
	require.Len(t, doc.Trusts, 2)
	assert.Equal(t, 101, doc.Trusts[0].Value)
	assert.ErrorIs(t, doc.Validate(), ErrMalformed)
}

func TestDecodeIgnoresTrustListWhenNotPublishing(t *testing.T) {
	xmlDoc := `<WebOfTrust><Identity Version="1" Name="x" PublishesTrustList="false">
		<TrustList><Trust Identity="npub1y" Value="10" Comment=""/></TrustList>
	</Identity></WebOfTrust>`
	doc, err := Decode(strings.NewReader(xmlDoc), "npub1x", 1)
	require.NoError(t, err)
	assert.Empty(t, doc.Trusts)
}

func TestFieldValidators(t *testing.T) {
	assert.NoError(t, ValidateNickname("Alice"))
	assert.NoError(t, ValidateNickname(""))
	assert.Error(t, ValidateNickname("tab\there"))
	assert.Error(t, ValidateNickname(strings.Repeat("n", MaxNicknameLength+1)))

	assert.NoError(t, ValidateContext("Introduction"))
	assert.Error(t, ValidateContext(""))
	assert.Error(t, ValidateContext(strings.Repeat("c", MaxContextLength+1)))

	assert.NoError(t, ValidateProperty("avatar", ""))
	assert.Error(t, ValidateProperty("", "v"))
	assert.Error(t, ValidateProperty("big", strings.Repeat("v", MaxPropertyValueLength+1)))
}
