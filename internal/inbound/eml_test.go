package inbound

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildEML(from string, parts ...string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: intake@meridian.example\r\n")
	b.WriteString("Subject: claim submission\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=\"frontier\"\r\n")
	b.WriteString("\r\n")
	for _, p := range parts {
		b.WriteString("--frontier\r\n")
		b.WriteString(p)
	}
	b.WriteString("--frontier--\r\n")
	return []byte(b.String())
}

func textPart(body string) string {
	return "Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n" + body + "\r\n"
}

func imagePart(filename string, data []byte) string {
	return "Content-Type: image/png; name=\"" + filename + "\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"Content-Disposition: attachment; filename=\"" + filename + "\"\r\n" +
		"\r\n" + base64.StdEncoding.EncodeToString(data) + "\r\n"
}

func TestParseEML_AttachmentAndSender(t *testing.T) {
	scan := []byte{0x89, 0x50, 0x4E, 0x47, 1, 2, 3}
	raw := buildEML("Dr Alvarez <Claims@Provider.Example>",
		textPart("please find the claim attached"),
		imagePart("scan.png", scan),
	)

	parsed, err := parseEML(raw)
	require.NoError(t, err)
	assert.Equal(t, "claims@provider.example", parsed.Sender)
	assert.Equal(t, "scan.png", parsed.Filename)
	assert.Equal(t, scan, parsed.Attachment)
}

func TestParseEML_EncodedWordSender(t *testing.T) {
	raw := buildEML("=?ISO-8859-1?Q?Cl=EDnica_Mu=F1oz?= <recepcion@clinica.example>",
		imagePart("scan.png", []byte{1, 2}),
	)

	parsed, err := parseEML(raw)
	require.NoError(t, err)
	assert.Equal(t, "recepcion@clinica.example", parsed.Sender)
}

func TestParseEML_SkipsTextPickFirstDocument(t *testing.T) {
	raw := buildEML("a@b.example",
		textPart("body text"),
		imagePart("first.png", []byte{1}),
		imagePart("second.png", []byte{2}),
	)

	parsed, err := parseEML(raw)
	require.NoError(t, err)
	assert.Equal(t, "first.png", parsed.Filename)
}

func TestParseEML_NoAttachment(t *testing.T) {
	raw := buildEML("a@b.example", textPart("no scan here"))

	_, err := parseEML(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no attachment")
}

func TestParseEML_NotMultipart(t *testing.T) {
	raw := []byte("From: a@b.example\r\nContent-Type: text/plain\r\n\r\nhello\r\n")

	_, err := parseEML(raw)
	require.Error(t, err)
}

func TestParseEML_BadSender(t *testing.T) {
	raw := buildEML("not-an-address", imagePart("scan.png", []byte{1}))

	_, err := parseEML(raw)
	require.Error(t, err)
}
