// Package newsml renders the minimal NewsML 1.2 document used to prove that a
// push endpoint accepts deliveries.
package newsml

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

const (
	Namespace = "http://iptc.org/std/NewsML/1.2/"
	Revision  = "1"

	catalogHref = "https://wire.fundamentals.so/schema/newsml/FundamentalsWireNewsMLCatalog.xml"
	title       = "Fundamentals Wire \u2014 HTTPS Push Test Delivery"
	slugLine    = "HTTPS Push Test"
	minimalCSS  = ".fwtextaligncenter { text-align: center; }"
)

// Item is the input to Build. Created is the only time-dependent field.
type Item struct {
	ProviderID     string
	ProviderName   string
	Created        time.Time
	NewsItemID     string
	HandlerVersion string
}

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// Escape replaces the five XML special characters.
func Escape(s string) string {
	return escaper.Replace(s)
}

// DateID formats t as YYYYMMDD in UTC.
func DateID(t time.Time) string {
	return t.UTC().Format("20060102")
}

// DateTime formats t as NewsML basic ISO 8601 in UTC.
func DateTime(t time.Time) string {
	return t.UTC().Format("20060102T150405") + "+0000"
}

// ISO formats t the way it is quoted in the body and dateline.
func ISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// PublicIdentifier builds urn:newsml:<provider>:<YYYYMMDD>:<itemId>:<revision>.
func PublicIdentifier(providerID, dateID, newsItemID, revision string) string {
	return fmt.Sprintf("urn:newsml:%s:%s:%s:%s", providerID, dateID, newsItemID, revision)
}

func xhtmlDoc(inner, docTitle string) string {
	return `<html xmlns="http://www.w3.org/1999/xhtml"><head><title>` + Escape(docTitle) +
		`</title></head><body>` + strings.TrimSpace(inner) + `</body></html>`
}

type component struct {
	Role     string
	Suffix   string
	Format   string
	MimeType string
	Content  string
}

type document struct {
	Item
	DateTime         string
	DateID           string
	Revision         string
	PublicIdentifier string
	CatalogHref      string
	Title            string
	DateLine         string
	SlugLine         string
	Components       []component
}

var docTemplate = template.Must(template.New("newsml").Funcs(template.FuncMap{
	"esc": Escape,
}).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<NewsML xmlns="` + Namespace + `" Version="1.2">
  <Catalog Href="{{.CatalogHref}}"/>

  <NewsEnvelope>
    <DateAndTime>{{.DateTime}}</DateAndTime>

    <SentFrom>
      <Party FormalName="{{esc .ProviderName}}">
        <Property FormalName="ProviderProfile" Value="FundamentalsWireProfile"/>
        <Property FormalName="ProviderProfileVersion" Value="1.0"/>
      </Party>
    </SentFrom>

    <NewsService FormalName="{{esc .ProviderName}}"/>
    <NewsProduct FormalName="PressRelease"/>
  </NewsEnvelope>

  <NewsItem>
    <Identification>
      <NewsIdentifier>
        <ProviderId>{{esc .ProviderID}}</ProviderId>
        <DateId>{{.DateID}}</DateId>
        <NewsItemId>{{esc .NewsItemID}}</NewsItemId>
        <RevisionId PreviousRevision="0" Update="N">{{.Revision}}</RevisionId>
        <PublicIdentifier>{{esc .PublicIdentifier}}</PublicIdentifier>
      </NewsIdentifier>
    </Identification>

    <NewsManagement>
      <NewsItemType FormalName="Release"/>
      <FirstCreated>{{.DateTime}}</FirstCreated>
      <ThisRevisionCreated>{{.DateTime}}</ThisRevisionCreated>
      <Status FormalName="Usable"/>
    </NewsManagement>

    <NewsComponent>
      <BasisForChoice Rank="1">./NewsComponent/Role</BasisForChoice>

      <NewsLines>
        <HeadLine>{{esc .Title}}</HeadLine>
        <DateLine>{{esc .DateLine}}</DateLine>
        <SlugLine>{{esc .SlugLine}}</SlugLine>
      </NewsLines>

      <DescriptiveMetadata>
        <Language FormalName="en"/>
        <Genre FormalName="Release"/>
      </DescriptiveMetadata>
{{range .Components}}
      <NewsComponent>
        <Role FormalName="{{.Role}}"/>
        <BasisForChoice Rank="1">./ContentItem/Format</BasisForChoice>
        <DescriptiveMetadata><Language FormalName="en"/></DescriptiveMetadata>
        <ContentItem Duid="{{esc $.NewsItemID}}.{{.Suffix}}">
          <Format FormalName="{{.Format}}"/>
          <MimeType FormalName="{{.MimeType}}"/>
          <DataContent>{{.Content}}</DataContent>
        </ContentItem>
      </NewsComponent>
{{end}}
    </NewsComponent>
  </NewsItem>
</NewsML>`))

// Build renders the test document. Identical inputs give identical output.
func Build(item Item) (string, error) {
	if item.ProviderID == "" || item.NewsItemID == "" {
		return "", fmt.Errorf("newsml: provider id and news item id are required")
	}
	if item.Created.IsZero() {
		return "", fmt.Errorf("newsml: created time is required")
	}

	iso := ISO(item.Created)
	dateID := DateID(item.Created)

	headline := xhtmlDoc(`<p class="fwtextaligncenter"><b>`+Escape(title)+`</b></p>`, "")
	body := xhtmlDoc(`<p><b>This is a test delivery.</b></p>
<p>If you can read this, your endpoint accepted an HTTPS POST containing NewsML 1.2.</p>
<p>newsItemId: <code>`+Escape(item.NewsItemID)+`</code></p>
<p>created: <code>`+Escape(iso)+`</code></p>
<p>handler: <code>`+Escape(item.HandlerVersion)+`</code></p>`, "")

	doc := document{
		Item:             item,
		DateTime:         DateTime(item.Created),
		DateID:           dateID,
		Revision:         Revision,
		PublicIdentifier: PublicIdentifier(item.ProviderID, dateID, item.NewsItemID, Revision),
		CatalogHref:      catalogHref,
		Title:            title,
		DateLine:         fmt.Sprintf("NEW YORK--(%s)--%s", strings.ToUpper(item.ProviderName), iso[:10]),
		SlugLine:         slugLine,
		Components: []component{
			{Role: "HeadLine", Suffix: "headline", Format: "XHTML", MimeType: "text/xhtml", Content: headline},
			{Role: "Body", Suffix: "body", Format: "XHTML", MimeType: "text/xhtml", Content: body},
			{Role: "StyleSheet", Suffix: "stylesheet", Format: "CSS", MimeType: "text/css", Content: Escape(minimalCSS)},
		},
	}

	var sb strings.Builder
	if err := docTemplate.Execute(&sb, doc); err != nil {
		return "", fmt.Errorf("newsml: render: %w", err)
	}
	return sb.String(), nil
}
