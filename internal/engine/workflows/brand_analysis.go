package workflows

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"draftr/internal/platform/models"
	"draftr/internal/platform/scraper"
)

const (
	StageScraping   = "scraping"
	StageExtracting = "extracting"
	StageSaving     = "saving"
)

type BrandInput struct {
	WebsiteURL string `json:"website_url"`
}

type brandProfile struct {
	CompanyName string   `json:"company_name"`
	Description string   `json:"description"`
	Tone        string   `json:"tone"`
	Audience    string   `json:"audience"`
	Keywords    []string `json:"keywords"`
}

const brandSystemPrompt = `You analyze company websites. Reply with a JSON object with the keys
company_name, description, tone, audience and keywords (an array of at most 10 strings).`

// maxPageChars bounds the page text sent for extraction.
const maxPageChars = 20000

// BrandAnalysis scrapes the organization's website, extracts its brand voice
// and saves it as the organization's brand settings.
func BrandAnalysis(scr Scraper, model LLM, brands BrandStore) *Definition {
	return &Definition{
		Type: TypeBrandAnalysis,
		Steps: []Step{
			{Stage: StageScraping, Run: func(ctx context.Context, st *RunState) (interface{}, error) {
				var in BrandInput
				if err := st.DecodeInput(&in); err != nil {
					return nil, Fatal(StageScraping, "invalid input")
				}
				target, ok := normalizeURL(in.WebsiteURL)
				if !ok {
					return nil, Fatal(StageScraping, "invalid website URL")
				}

				page, err := scr.Scrape(ctx, target)
				if err != nil {
					var statusErr *scraper.StatusError
					if errors.As(err, &statusErr) && !statusErr.Temporary() {
						return nil, Fatal(StageScraping, fmt.Sprintf("website could not be read (status %d)", statusErr.StatusCode))
					}
					return nil, Retriable(err)
				}
				return page, nil
			}},
			{Stage: StageExtracting, Run: func(ctx context.Context, st *RunState) (interface{}, error) {
				var page scraper.Page
				if err := st.Output(StageScraping, &page); err != nil {
					return nil, err
				}

				text := page.Markdown
				if len(text) > maxPageChars {
					text = text[:maxPageChars]
				}
				prompt := fmt.Sprintf("Website: %s\nTitle: %s\nDescription: %s\n\n%s", page.URL, page.Title, page.Description, text)

				var profile brandProfile
				if err := model.ExtractJSON(ctx, brandSystemPrompt, prompt, &profile); err != nil {
					if temporary(err) {
						return nil, Retriable(err)
					}
					return nil, err
				}
				if profile.CompanyName == "" {
					profile.CompanyName = page.Title
				}
				return profile, nil
			}},
			{Stage: StageSaving, Run: func(ctx context.Context, st *RunState) (interface{}, error) {
				var in BrandInput
				if err := st.DecodeInput(&in); err != nil {
					return nil, err
				}
				var profile brandProfile
				if err := st.Output(StageExtracting, &profile); err != nil {
					return nil, err
				}

				target, _ := normalizeURL(in.WebsiteURL)
				settings := &models.BrandSettings{
					OrganizationID: st.OrganizationID,
					WebsiteURL:     target,
					CompanyName:    profile.CompanyName,
					Description:    profile.Description,
					Tone:           profile.Tone,
					Audience:       profile.Audience,
					Keywords:       profile.Keywords,
				}
				if err := brands.Upsert(ctx, settings); err != nil {
					return nil, err
				}
				return map[string]string{"organization_id": st.OrganizationID}, nil
			}},
		},
	}
}

// normalizeURL accepts absolute http(s) URLs and bare hostnames.
func normalizeURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.ContainsAny(raw, " \t\n") {
		return "", false
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	host := u.Hostname()
	if host == "" || (!strings.Contains(host, ".") && host != "localhost") {
		return "", false
	}
	return u.String(), true
}
