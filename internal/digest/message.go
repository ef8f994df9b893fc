// Package digest defines the data model shared by every pipeline stage:
// fetched messages, linked articles, and the summaries handed to publishers.
package digest

import "time"

// Message is a newsletter email as returned by a mail source.
// It is never modified after the source builds it.
type Message struct {
	ID         string
	Subject    string
	From       string
	ReceivedAt time.Time
	HeaderDate time.Time
	Body       string
	Links      []string
}

// Link returns the highest ranked link extracted from the body, or "".
func (m *Message) Link() string {
	if len(m.Links) == 0 {
		return ""
	}
	return m.Links[0]
}

// Article is the readable content of a page linked from a message.
type Article struct {
	URL         string
	Title       string
	Text        string
	PublishedAt time.Time
}

// DateSource names where a summary's date came from.
type DateSource string

const (
	DateSourceArticle  DateSource = "article"
	DateSourceHeader   DateSource = "email_header"
	DateSourceInternal DateSource = "internal"
	DateSourceNone     DateSource = "none"
)

// Summary is the markdown produced for one message plus the metadata
// publishers need to file it.
type Summary struct {
	MessageID  string
	Subject    string
	Title      string
	Markdown   string
	Date       time.Time
	DateSource DateSource
	Tickers    []string
	SourceURL  string
	CreatedAt  time.Time
}
