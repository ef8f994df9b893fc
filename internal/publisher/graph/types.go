package graph

import (
	"strings"

	"github.com/shineum/newsletter-digest/internal/digest"
	"github.com/shineum/newsletter-digest/internal/email"
)

// Custom headers stamped on every digest so mail rules can route them.
const (
	headerMessageID = "X-Digest-Message-Id"
	headerSource    = "X-Digest-Source"
)

// sendMail is the body of POST /users/{sender}/sendMail.
type sendMail struct {
	Message         digestMessage `json:"message"`
	SaveToSentItems bool          `json:"saveToSentItems"`
}

// digestMessage is the subset of the Graph message resource a digest fills.
type digestMessage struct {
	Subject      string           `json:"subject"`
	Body         itemBody         `json:"body"`
	ToRecipients []recipient      `json:"toRecipients"`
	Categories   []string         `json:"categories,omitempty"`
	Headers      []messageHeader  `json:"internetMessageHeaders,omitempty"`
	Attachments  []fileAttachment `json:"attachments,omitempty"`
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type messageHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// fileAttachment carries the markdown copy of the summary. encoding/json
// writes ContentBytes as standard base64, which is what Graph expects.
type fileAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes []byte `json:"contentBytes"`
}

// apiError is the error envelope Graph returns on failure.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newSendMail builds the request for one summary. msg is the rendered
// digest email; tickers become Outlook categories and the message id and
// source link travel as X- headers.
func newSendMail(s *digest.Summary, msg *email.Email) *sendMail {
	m := digestMessage{
		Subject:    msg.Subject,
		Body:       itemBody{ContentType: "text", Content: msg.TextBody},
		Categories: s.Tickers,
	}

	for _, addr := range msg.To {
		var r recipient
		r.EmailAddress.Address = addr
		m.ToRecipients = append(m.ToRecipients, r)
	}

	if id := strings.TrimSpace(s.MessageID); id != "" {
		m.Headers = append(m.Headers, messageHeader{Name: headerMessageID, Value: id})
	}
	if s.SourceURL != "" {
		m.Headers = append(m.Headers, messageHeader{Name: headerSource, Value: s.SourceURL})
	}

	for _, att := range msg.Attachments {
		m.Attachments = append(m.Attachments, fileAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Filename,
			ContentType:  att.ContentType,
			ContentBytes: att.Content,
		})
	}

	return &sendMail{Message: m, SaveToSentItems: true}
}
