package client

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"

	"github.com/studiowebux/restcall/internal/routes"
)

// Upload is a file sent by PostFile
type Upload struct {
	FieldName string // "file" when empty
	FileName  string
	// ContentType defaults to the type registered for the file extension
	ContentType string
	Reader      io.Reader
}

// PostFile uploads a file as multipart/form-data, with the set properties of request as
// form values. The body is streamed; a replay after a 401 needs Reader to be an
// io.Seeker.
func (c *Client) PostFile(ctx context.Context, relativeOrAbsolute string, upload Upload, request, response any) error {
	if upload.Reader == nil {
		return fmt.Errorf("upload %s has no content", upload.FileName)
	}
	c.stampVersion(request)
	url := c.ResolveURLString(http.MethodPost, relativeOrAbsolute)
	if c.applyResultsFilter(http.MethodPost, url, request, response) {
		return nil
	}

	var fields []routes.Field
	if request != nil {
		fields = routes.Fields(request)
	}

	var start int64
	seeker, seekable := upload.Reader.(io.Seeker)
	if seekable {
		pos, err := seeker.Seek(0, io.SeekCurrent)
		if err != nil {
			return fmt.Errorf("failed to read upload position: %w", err)
		}
		start = pos
	}

	// the previous attempt's writer must stop before the reader is rewound
	var prev *io.PipeReader
	var prevDone chan struct{}
	p := &payload{
		open: func(ctx context.Context) (io.Reader, string, error) {
			if prev != nil {
				prev.CloseWithError(io.ErrClosedPipe)
				<-prevDone
				if !seekable {
					return nil, "", fmt.Errorf("upload of %s can not be replayed", upload.FileName)
				}
				if _, err := seeker.Seek(start, io.SeekStart); err != nil {
					return nil, "", fmt.Errorf("failed to rewind upload: %w", err)
				}
			}

			pr, pw := io.Pipe()
			mw := multipart.NewWriter(pw)
			done := make(chan struct{})
			go func() {
				defer close(done)
				err := writeMultipart(ctx, mw, fields, upload)
				if err == nil {
					err = mw.Close()
				}
				pw.CloseWithError(err)
			}()
			prev, prevDone = pr, done
			return pr, mw.FormDataContentType(), nil
		},
	}
	return c.exchange(ctx, http.MethodPost, url, request, response, p)
}

func writeMultipart(ctx context.Context, mw *multipart.Writer, fields []routes.Field, upload Upload) error {
	for _, f := range fields {
		if !f.IsSet() {
			continue
		}
		if err := mw.WriteField(f.WireName, f.String()); err != nil {
			return err
		}
	}

	fieldName := upload.FieldName
	if fieldName == "" {
		fieldName = "file"
	}
	contentType := upload.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(upload.FileName))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(fieldName), escapeQuotes(upload.FileName)))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, &contextReader{ctx: ctx, r: upload.Reader})
	return err
}

// contextReader stops reading once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
