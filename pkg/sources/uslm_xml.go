package sources

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/civicdata-io/civic-engine/pkg/importer"
)

// StatuteSection is one parsed section of a USLM (United States Legislative
// Markup) title file, carrying the title and chapter context it appeared
// under.
type StatuteSection struct {
	Identifier    string `validate:"required,startswith=/us/usc/"`
	TitleNumber   int
	TitleName     string
	ChapterNumber string
	ChapterName   string
	SectionNumber string
	Heading       string
	ContentText   string
	ContentXML    string
	SourceCredit  string
}

func (s *StatuteSection) Ref() string {
	if s.Identifier == "" {
		return "section ?"
	}
	return s.Identifier
}

var (
	uslmTitlePattern      = regexp.MustCompile(`/us/usc/t(\d+)`)
	uslmSectionNumPattern = regexp.MustCompile(`§\s*([\w\-]+)`)
	uslmChapterPrefix     = regexp.MustCompile(`(?i)chapter\s*`)

	xmlTagPattern   = regexp.MustCompile(`<[^>]+>`)
	whitespaceRuns  = regexp.MustCompile(`\s+`)
	xmlTextReplacer = strings.NewReplacer(
		"&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")
)

// USLMSource stream-parses sections out of a USLM title file. Title files
// run to 50-100MB, so sections are yielded one at a time and the surrounding
// title/chapter context is tracked incrementally.
//
// Structure handled:
//
//	<uslm><main>
//	  <title identifier="/us/usc/t5">
//	    <num>5</num><heading>GOVERNMENT ORGANIZATION AND EMPLOYEES</heading>
//	    <chapter identifier="/us/usc/t5/ch1">
//	      <num>CHAPTER 1</num><heading>ORGANIZATION</heading>
//	      <section identifier="/us/usc/t5/s101">...</section>
//	    </chapter>
//	  </title>
//	</main></uslm>
type USLMSource struct {
	dec *xml.Decoder

	inTitle   bool
	inChapter bool

	titleName   string
	chapterNum  string
	chapterName string
}

// NewUSLMSource wraps a USLM XML payload.
func NewUSLMSource(r io.Reader) *USLMSource {
	return &USLMSource{dec: xml.NewDecoder(r)}
}

var _ importer.Source[*StatuteSection] = (*USLMSource)(nil)

// Next returns the next section element. Returns io.EOF when the document is
// exhausted and a *importer.SourceFormatError when the XML is malformed.
func (s *USLMSource) Next(_ context.Context) (*StatuteSection, error) {
	for {
		tok, err := s.dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, &importer.SourceFormatError{Msg: "failed to parse USLM XML", Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "title":
				s.inTitle = true
				s.titleName = ""

			case "chapter":
				s.inChapter = true
				s.chapterNum = ""
				s.chapterName = ""

			case "section":
				return s.parseSection(t)

			case "num":
				// First num directly under the chapter is its number.
				if s.inChapter && s.chapterNum == "" {
					text, err := readElementText(s.dec)
					if err != nil {
						return nil, &importer.SourceFormatError{Msg: "failed to parse USLM XML", Err: err}
					}
					s.chapterNum = text
				}

			case "heading":
				// First heading wins at each level; later headings belong to
				// notes and amendment blocks.
				if s.inChapter && s.chapterName == "" {
					text, err := readElementText(s.dec)
					if err != nil {
						return nil, &importer.SourceFormatError{Msg: "failed to parse USLM XML", Err: err}
					}
					s.chapterName = text
				} else if s.inTitle && !s.inChapter && s.titleName == "" {
					text, err := readElementText(s.dec)
					if err != nil {
						return nil, &importer.SourceFormatError{Msg: "failed to parse USLM XML", Err: err}
					}
					s.titleName = text
				}
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "title":
				s.inTitle = false
				s.titleName = ""
			case "chapter":
				s.inChapter = false
				s.chapterNum = ""
				s.chapterName = ""
			}
		}
	}
}

// parseSection consumes one section element and builds the candidate,
// re-serializing the pieces that matter into ContentXML.
func (s *USLMSource) parseSection(start xml.StartElement) (*StatuteSection, error) {
	identifier := attrValue(start, "identifier")

	section := &StatuteSection{
		Identifier:    identifier,
		TitleNumber:   extractTitleNumber(identifier),
		TitleName:     s.titleName,
		ChapterNumber: uslmChapterPrefix.ReplaceAllString(strings.TrimSpace(s.chapterNum), ""),
		ChapterName:   s.chapterName,
	}

	var xmlBuf strings.Builder
	fmt.Fprintf(&xmlBuf, `<section identifier="%s">`, xmlTextReplacer.Replace(identifier))

	depth := 0
	for {
		tok, err := s.dec.Token()
		if err != nil {
			return nil, &importer.SourceFormatError{Msg: "failed to parse USLM section", Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				consumed, err := s.parseSectionChild(t, section, &xmlBuf)
				if err != nil {
					return nil, err
				}
				if consumed {
					continue
				}
			}
			depth++

		case xml.EndElement:
			if depth == 0 {
				xmlBuf.WriteString("</section>")
				section.ContentXML = xmlBuf.String()
				section.SectionNumber = cleanSectionNumber(section.SectionNumber)
				return section, nil
			}
			depth--
		}
	}
}

// parseSectionChild handles a direct child of the section element. Returns
// true when it consumed the whole child.
func (s *USLMSource) parseSectionChild(start xml.StartElement, section *StatuteSection, xmlBuf *strings.Builder) (bool, error) {
	switch start.Name.Local {
	case "num":
		if section.SectionNumber != "" {
			return false, nil
		}
		text, err := readElementText(s.dec)
		if err != nil {
			return false, &importer.SourceFormatError{Msg: "failed to parse USLM section", Err: err}
		}
		section.SectionNumber = text
		fmt.Fprintf(xmlBuf, "<num>%s</num>", xmlTextReplacer.Replace(text))
		return true, nil

	case "heading":
		if section.Heading != "" {
			return false, nil
		}
		text, err := readElementText(s.dec)
		if err != nil {
			return false, &importer.SourceFormatError{Msg: "failed to parse USLM section", Err: err}
		}
		section.Heading = text
		fmt.Fprintf(xmlBuf, "<heading>%s</heading>", xmlTextReplacer.Replace(text))
		return true, nil

	case "content":
		inner, err := readElementXML(s.dec)
		if err != nil {
			return false, &importer.SourceFormatError{Msg: "failed to parse USLM section", Err: err}
		}
		section.ContentText = flattenXMLText(inner)
		fmt.Fprintf(xmlBuf, "<content>%s</content>", inner)
		return true, nil

	case "sourceCredit":
		text, err := readElementText(s.dec)
		if err != nil {
			return false, &importer.SourceFormatError{Msg: "failed to parse USLM section", Err: err}
		}
		section.SourceCredit = text
		fmt.Fprintf(xmlBuf, "<sourceCredit>%s</sourceCredit>", xmlTextReplacer.Replace(text))
		return true, nil
	}

	return false, nil
}

// readElementText collects the character data of the current element,
// including nested elements, through its end tag.
func readElementText(dec *xml.Decoder) (string, error) {
	var sb strings.Builder
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			if depth == 0 {
				return strings.TrimSpace(sb.String()), nil
			}
			depth--
		case xml.CharData:
			sb.Write(t)
		}
	}
}

// readElementXML re-serializes the current element's inner XML through its
// end tag. Namespace declarations are dropped; attribute order is preserved.
func readElementXML(dec *xml.Decoder) (string, error) {
	var sb strings.Builder
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			sb.WriteString("<")
			sb.WriteString(t.Name.Local)
			for _, attr := range t.Attr {
				if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
					continue
				}
				fmt.Fprintf(&sb, ` %s="%s"`, attr.Name.Local, xmlTextReplacer.Replace(attr.Value))
			}
			sb.WriteString(">")
		case xml.EndElement:
			if depth == 0 {
				return sb.String(), nil
			}
			depth--
			sb.WriteString("</")
			sb.WriteString(t.Name.Local)
			sb.WriteString(">")
		case xml.CharData:
			sb.WriteString(xmlTextReplacer.Replace(string(t)))
		}
	}
}

func attrValue(start xml.StartElement, name string) string {
	for _, attr := range start.Attr {
		if attr.Name.Local == name {
			return attr.Value
		}
	}
	return ""
}

// extractTitleNumber pulls the title number out of a USC identifier:
// "/us/usc/t5/s101" -> 5.
func extractTitleNumber(identifier string) int {
	m := uslmTitlePattern.FindStringSubmatch(identifier)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// cleanSectionNumber strips the section symbol: "§ 101" -> "101".
func cleanSectionNumber(raw string) string {
	if m := uslmSectionNumPattern.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return strings.TrimSpace(raw)
}

// flattenXMLText strips tags and collapses whitespace for full-text search.
func flattenXMLText(xmlStr string) string {
	text := xmlTagPattern.ReplaceAllString(xmlStr, " ")
	return strings.TrimSpace(whitespaceRuns.ReplaceAllString(text, " "))
}
