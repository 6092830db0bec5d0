package inbound

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/meridian-benefits/claimflow/internal/model"
)

// attachmentTypes lists content types accepted as claim documents.
var attachmentTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"image/gif":       true,
	"image/webp":      true,
	"image/tiff":      true,
	"application/pdf": true,
}

// parsedMessage is the claim-relevant content of one .eml file.
type parsedMessage struct {
	Sender     string
	Filename   string
	Attachment []byte
}

// wordDecoder handles RFC 2047 encoded-words in non-UTF-8 charsets.
var wordDecoder = mime.WordDecoder{CharsetReader: charsetReader}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "eml: unknown charset %s", charset)
	}
	return enc.NewDecoder().Reader(input), nil
}

// ParseEML reads an RFC 5322 message and returns a document event built
// from the sender address and the first document attachment.
func ParseEML(eventID string, data []byte, receivedAt time.Time) (model.DocumentEvent, error) {
	parsed, err := parseEML(data)
	if err != nil {
		return model.DocumentEvent{}, err
	}
	return model.DocumentEvent{
		EventID:    eventID,
		Sender:     parsed.Sender,
		Filename:   parsed.Filename,
		Attachment: parsed.Attachment,
		ReceivedAt: receivedAt,
	}, nil
}

// parseEML pulls the sender address and the first document attachment
// out of a raw message.
func parseEML(data []byte) (*parsedMessage, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrap(err, "eml: read message")
	}

	sender, err := parseSender(msg.Header.Get("From"))
	if err != nil {
		return nil, err
	}

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		return nil, eris.Wrap(err, "eml: parse content type")
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, eris.New("eml: no attachment found")
	}

	mr := multipart.NewReader(msg.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "eml: read part")
		}

		partType, _, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil || !attachmentTypes[partType] {
			continue
		}

		payload, err := decodePart(part)
		if err != nil {
			return nil, err
		}
		filename := part.FileName()
		if filename == "" {
			filename = "document"
		}
		return &parsedMessage{
			Sender:     sender,
			Filename:   filename,
			Attachment: payload,
		}, nil
	}

	return nil, eris.New("eml: no attachment found")
}

func parseSender(from string) (string, error) {
	decoded, err := wordDecoder.DecodeHeader(from)
	if err != nil {
		decoded = from
	}
	addr, err := mail.ParseAddress(decoded)
	if err != nil {
		return "", eris.Wrapf(err, "eml: parse sender %q", from)
	}
	return strings.ToLower(addr.Address), nil
}

func decodePart(part *multipart.Part) ([]byte, error) {
	var r io.Reader = part
	switch strings.ToLower(part.Header.Get("Content-Transfer-Encoding")) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, part)
	case "quoted-printable":
		r = quotedprintable.NewReader(part)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "eml: decode attachment")
	}
	return data, nil
}
