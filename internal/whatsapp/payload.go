package whatsapp

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/pkg/errors"
	qrcode "github.com/skip2/go-qrcode"
)

// QRRenderer turns a pairing challenge into something a client can display.
type QRRenderer interface {
	Render(code string) (string, error)
}

// DataURLRenderer renders PNG data URLs.
type DataURLRenderer struct {
	Size int
}

func (r DataURLRenderer) Render(code string) (string, error) {
	size := r.Size
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(code, qrcode.Medium, size)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// ButtonSpec is the request shape of a template button.
type ButtonSpec struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Payload string `json:"payload"`
	Index   int    `json:"index"`
}

// ProcessButtons maps request buttons onto template buttons. replyButton,
// callButton and urlButton are supported; anything else is dropped.
func ProcessButtons(specs []ButtonSpec) []TemplateButton {
	out := make([]TemplateButton, 0, len(specs))
	for _, b := range specs {
		switch b.Type {
		case "replyButton":
			out = append(out, TemplateButton{Index: b.Index, QuickReply: &QuickReplyButton{DisplayText: b.Title}})
		case "callButton":
			out = append(out, TemplateButton{Index: b.Index, Call: &CallButton{DisplayText: b.Title, PhoneNumber: b.Payload}})
		case "urlButton":
			out = append(out, TemplateButton{Index: b.Index, URL: &URLButton{DisplayText: b.Title, URL: b.Payload}})
		}
	}
	return out
}

// ContactSpec is the request shape of a contact card.
type ContactSpec struct {
	FullName     string `json:"fullName"`
	Organization string `json:"organization"`
	PhoneNumber  string `json:"phoneNumber"`
}

func GenerateVCard(c ContactSpec) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCARD\n")
	b.WriteString("VERSION:3.0\n")
	b.WriteString("FN:" + c.FullName + "\n")
	b.WriteString("ORG:" + c.Organization + ";\n")
	b.WriteString("TEL;type=CELL;type=VOICE;waid=" + c.PhoneNumber + ":" + c.PhoneNumber + "\n")
	b.WriteString("END:VCARD")
	return b.String()
}

// MediaFetcher loads media referenced by URL or local path.
type MediaFetcher struct {
	Client *http.Client
	// MaxBytes caps downloads; 0 means 64 MiB.
	MaxBytes int64
}

// Fetch returns the body and its mime type. http and https references are
// downloaded, anything else is read from disk.
func (f MediaFetcher) Fetch(ctx context.Context, ref string) ([]byte, string, error) {
	limit := f.MaxBytes
	if limit <= 0 {
		limit = 64 << 20
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		client := f.Client
		if client == nil {
			client = http.DefaultClient
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return nil, "", errors.Wrap(err, "build media request")
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, "", errors.Wrapf(err, "fetch %s", ref)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, "", errors.Errorf("fetch %s: status %d", ref, resp.StatusCode)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
		if err != nil {
			return nil, "", errors.Wrapf(err, "read %s", ref)
		}
		mime := resp.Header.Get("Content-Type")
		if mime == "" {
			mime = http.DetectContentType(data)
		}
		return data, mime, nil
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, "", errors.Wrapf(err, "read %s", ref)
	}
	return data, http.DetectContentType(data), nil
}
