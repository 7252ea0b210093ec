package server

import (
	"fmt"
	"mime"

	"github.com/gin-gonic/gin"

	"github.com/feedbackkit/fb/internal/normalize"
)

// Request adapts a gin context to the normalizer's capability interfaces.
func Request(c *gin.Context) interface{} {
	return ginRequest{c: c}
}

type ginRequest struct {
	c *gin.Context
}

func (g ginRequest) ContentType() string {
	return g.c.ContentType()
}

func (g ginRequest) ReadJSON(v interface{}) error {
	return g.c.ShouldBindJSON(v)
}

func (g ginRequest) ReadForm() (*normalize.Form, error) {
	mt, _, _ := mime.ParseMediaType(g.c.GetHeader("Content-Type"))
	switch mt {
	case gin.MIMEMultipartPOSTForm:
		mf, err := g.c.MultipartForm()
		if err != nil {
			return nil, err
		}
		return normalize.FromMultipart(mf)
	case gin.MIMEPOSTForm:
		if err := g.c.Request.ParseForm(); err != nil {
			return nil, err
		}
		return &normalize.Form{Values: g.c.Request.PostForm, Files: map[string][][]byte{}}, nil
	}
	return nil, fmt.Errorf("unsupported content type %q", g.c.ContentType())
}
