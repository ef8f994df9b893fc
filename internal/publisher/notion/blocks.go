package notion

import (
	"regexp"
	"strings"

	"github.com/jomei/notionapi"
)

// maxTextLen is Notion's limit on the content of one rich text object.
const maxTextLen = 2000

var (
	headingRe  = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	bulletRe   = regexp.MustCompile(`^\s*[-*+]\s+(.*)$`)
	numberedRe = regexp.MustCompile(`^\s*\d+[.)]\s+(.*)$`)
	dividerRe  = regexp.MustCompile(`^\s*([-*_])(\s*[-*_]){2,}\s*$`)
	inlineRe   = regexp.MustCompile("\\*\\*([^*]+)\\*\\*|`([^`]+)`|\\[([^\\]]+)\\]\\((https?://[^)\\s]+)\\)")
)

// codeLanguages are fence labels passed through to Notion. Anything else is
// sent as "plain text", which Notion always accepts.
var codeLanguages = map[string]bool{
	"bash": true, "c": true, "c++": true, "css": true, "go": true, "html": true,
	"java": true, "javascript": true, "json": true, "markdown": true, "python": true,
	"shell": true, "sql": true, "typescript": true, "yaml": true,
}

// Blocks converts GitHub-flavored markdown into Notion blocks. It handles
// the constructs summaries use: headings, bullet and numbered items,
// quotes, fenced code, dividers and paragraphs. Consecutive plain lines are
// joined into one paragraph.
func Blocks(md string) []notionapi.Block {
	var (
		blocks    []notionapi.Block
		paragraph []string
		code      []string
		inCode    bool
		lang      string
	)

	flush := func() {
		if len(paragraph) == 0 {
			return
		}
		blocks = append(blocks, textBlock(notionapi.BlockTypeParagraph, strings.Join(paragraph, "\n")))
		paragraph = nil
	}

	for _, line := range strings.Split(strings.ReplaceAll(md, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)

		if inCode {
			if strings.HasPrefix(trimmed, "```") {
				blocks = append(blocks, codeBlock(strings.Join(code, "\n"), lang))
				code, inCode = nil, false
				continue
			}
			code = append(code, line)
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "```"):
			flush()
			inCode = true
			lang = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, "```")))
		case trimmed == "":
			flush()
		case dividerRe.MatchString(trimmed):
			flush()
			blocks = append(blocks, &notionapi.DividerBlock{
				BasicBlock: basic(notionapi.BlockTypeDivider),
				Divider:    notionapi.Divider{},
			})
		case headingRe.MatchString(trimmed):
			flush()
			m := headingRe.FindStringSubmatch(trimmed)
			blocks = append(blocks, textBlock(headingTypes[min(len(m[1]), 3)-1], m[2]))
		case strings.HasPrefix(trimmed, ">"):
			flush()
			blocks = append(blocks, textBlock(notionapi.BlockTypeQuote, strings.TrimSpace(strings.TrimPrefix(trimmed, ">"))))
		case bulletRe.MatchString(line):
			flush()
			blocks = append(blocks, textBlock(notionapi.BlockTypeBulletedListItem, bulletRe.FindStringSubmatch(line)[1]))
		case numberedRe.MatchString(line):
			flush()
			blocks = append(blocks, textBlock(notionapi.BlockTypeNumberedListItem, numberedRe.FindStringSubmatch(line)[1]))
		default:
			paragraph = append(paragraph, trimmed)
		}
	}

	if inCode {
		blocks = append(blocks, codeBlock(strings.Join(code, "\n"), lang))
	}
	flush()
	return blocks
}

var headingTypes = [3]notionapi.BlockType{
	notionapi.BlockTypeHeading1,
	notionapi.BlockTypeHeading2,
	notionapi.BlockTypeHeading3,
}

func basic(typ notionapi.BlockType) notionapi.BasicBlock {
	return notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: typ}
}

func textBlock(typ notionapi.BlockType, text string) notionapi.Block {
	rt := Inline(text)
	switch typ {
	case notionapi.BlockTypeHeading1:
		return &notionapi.Heading1Block{BasicBlock: basic(typ), Heading1: notionapi.Heading{RichText: rt}}
	case notionapi.BlockTypeHeading2:
		return &notionapi.Heading2Block{BasicBlock: basic(typ), Heading2: notionapi.Heading{RichText: rt}}
	case notionapi.BlockTypeHeading3:
		return &notionapi.Heading3Block{BasicBlock: basic(typ), Heading3: notionapi.Heading{RichText: rt}}
	case notionapi.BlockTypeBulletedListItem:
		return &notionapi.BulletedListItemBlock{BasicBlock: basic(typ), BulletedListItem: notionapi.ListItem{RichText: rt}}
	case notionapi.BlockTypeNumberedListItem:
		return &notionapi.NumberedListItemBlock{BasicBlock: basic(typ), NumberedListItem: notionapi.ListItem{RichText: rt}}
	case notionapi.BlockTypeQuote:
		return &notionapi.QuoteBlock{BasicBlock: basic(typ), Quote: notionapi.Quote{RichText: rt}}
	default:
		return &notionapi.ParagraphBlock{BasicBlock: basic(notionapi.BlockTypeParagraph), Paragraph: notionapi.Paragraph{RichText: rt}}
	}
}

func codeBlock(content, lang string) notionapi.Block {
	if !codeLanguages[lang] {
		lang = "plain text"
	}
	return &notionapi.CodeBlock{
		BasicBlock: basic(notionapi.BlockTypeCode),
		Code:       notionapi.Code{RichText: Plain(content), Language: lang},
	}
}

// Inline converts **bold**, `code` and [text](url) spans to rich text.
// Other markdown is kept literally.
func Inline(s string) []notionapi.RichText {
	var out []notionapi.RichText
	last := 0
	for _, m := range inlineRe.FindAllStringSubmatchIndex(s, -1) {
		if m[0] > last {
			out = append(out, chunk(s[last:m[0]], nil, nil)...)
		}
		switch {
		case m[2] >= 0:
			out = append(out, chunk(s[m[2]:m[3]], nil, &notionapi.Annotations{Bold: true, Color: notionapi.ColorDefault})...)
		case m[4] >= 0:
			out = append(out, chunk(s[m[4]:m[5]], nil, &notionapi.Annotations{Code: true, Color: notionapi.ColorDefault})...)
		default:
			out = append(out, chunk(s[m[6]:m[7]], &notionapi.Link{Url: s[m[8]:m[9]]}, nil)...)
		}
		last = m[1]
	}
	if last < len(s) {
		out = append(out, chunk(s[last:], nil, nil)...)
	}
	if out == nil {
		out = []notionapi.RichText{}
	}
	return out
}

// Plain returns s as unstyled rich text.
func Plain(s string) []notionapi.RichText {
	out := chunk(s, nil, nil)
	if out == nil {
		out = []notionapi.RichText{}
	}
	return out
}

// chunk splits s into rich text objects of at most maxTextLen characters.
func chunk(s string, link *notionapi.Link, ann *notionapi.Annotations) []notionapi.RichText {
	var out []notionapi.RichText
	runes := []rune(s)
	for len(runes) > 0 {
		n := min(len(runes), maxTextLen)
		out = append(out, notionapi.RichText{
			Type:        notionapi.ObjectTypeText,
			Text:        &notionapi.Text{Content: string(runes[:n]), Link: link},
			Annotations: ann,
		})
		runes = runes[n:]
	}
	return out
}
