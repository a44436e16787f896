package crm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/sony/gobreaker/v2"

	"vkanalytics/internal/pkg/breaker"
)

// ErrStoreOpen is returned while the Notion breaker is open.
var ErrStoreOpen = errors.New("notion CRM temporarily disabled after repeated failures")

const titleCandidates = 20

// NotionStore keeps CRM rows in a Notion database.
type NotionStore struct {
	client     *notionapi.Client
	databaseID notionapi.DatabaseID
	cb         *gobreaker.CircuitBreaker[any]
}

// NewNotionStore returns a store writing to databaseID.
func NewNotionStore(client *notionapi.Client, databaseID string, logger *slog.Logger) *NotionStore {
	return &NotionStore{
		client:     client,
		databaseID: notionapi.DatabaseID(databaseID),
		cb:         breaker.New[any]("notion-crm", logger, breaker.Settings{}),
	}
}

// guard runs fn behind the store's breaker.
func guard[T any](cb *gobreaker.CircuitBreaker[any], fn func() (T, error)) (T, error) {
	var zero T
	v, err := cb.Execute(func() (any, error) { return fn() })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, ErrStoreOpen
	}
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

func (s *NotionStore) query(ctx context.Context, filter notionapi.PropertyFilter, size int) ([]notionapi.Page, error) {
	resp, err := guard(s.cb, func() (*notionapi.DatabaseQueryResponse, error) {
		return s.client.Database.Query(ctx, s.databaseID, &notionapi.DatabaseQueryRequest{
			Filter:   &filter,
			PageSize: size,
		})
	})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (s *NotionStore) FindByURL(ctx context.Context, property, url string) (string, bool, error) {
	pages, err := s.query(ctx, notionapi.PropertyFilter{
		Property: property,
		RichText: &notionapi.TextFilterCondition{Equals: url},
	}, 1)
	if err != nil || len(pages) == 0 {
		return "", false, err
	}
	return string(pages[0].ID), true, nil
}

// FindByTitle prefers a case-insensitive exact match among the candidates
// Notion returns and falls back to the first one.
func (s *NotionStore) FindByTitle(ctx context.Context, title string) (string, bool, error) {
	pages, err := s.query(ctx, notionapi.PropertyFilter{
		Property: PropertyTitle,
		RichText: &notionapi.TextFilterCondition{Equals: title},
	}, titleCandidates)
	if err != nil || len(pages) == 0 {
		return "", false, err
	}
	for _, p := range pages {
		if strings.EqualFold(pageTitle(p), title) {
			return string(p.ID), true, nil
		}
	}
	return string(pages[0].ID), true, nil
}

func pageTitle(p notionapi.Page) string {
	var rich []notionapi.RichText
	switch prop := p.Properties[PropertyTitle].(type) {
	case *notionapi.TitleProperty:
		rich = prop.Title
	case notionapi.TitleProperty:
		rich = prop.Title
	}
	var sb strings.Builder
	for _, r := range rich {
		if r.PlainText != "" {
			sb.WriteString(r.PlainText)
		} else if r.Text != nil {
			sb.WriteString(r.Text.Content)
		}
	}
	return sb.String()
}

func (s *NotionStore) Create(ctx context.Context, rec Record) (string, error) {
	page, err := guard(s.cb, func() (*notionapi.Page, error) {
		return s.client.Page.Create(ctx, &notionapi.PageCreateRequest{
			Parent: notionapi.Parent{
				Type:       notionapi.ParentTypeDatabaseID,
				DatabaseID: s.databaseID,
			},
			Properties: properties(rec),
			Children:   noteBlocks(rec.Notes),
		})
	})
	if err != nil {
		return "", fmt.Errorf("notion create page: %w", err)
	}
	return string(page.ID), nil
}

func (s *NotionStore) Update(ctx context.Context, pageID string, rec Record) error {
	_, err := guard(s.cb, func() (*notionapi.Page, error) {
		return s.client.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{
			Properties: properties(rec),
		})
	})
	if err != nil {
		return fmt.Errorf("notion update page: %w", err)
	}
	if len(rec.Notes) == 0 {
		return nil
	}

	children := append([]notionapi.Block{&notionapi.DividerBlock{
		BasicBlock: notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: notionapi.BlockTypeDivider},
	}}, noteBlocks(rec.Notes)...)
	_, err = guard(s.cb, func() (*notionapi.AppendBlockChildrenResponse, error) {
		return s.client.Block.AppendChildren(ctx, notionapi.BlockID(pageID), &notionapi.AppendBlockChildrenRequest{
			Children: children,
		})
	})
	if err != nil {
		return fmt.Errorf("notion append notes: %w", err)
	}
	return nil
}

func properties(rec Record) notionapi.Properties {
	requested := notionapi.Date(rec.RequestedAt.UTC())
	props := notionapi.Properties{
		PropertyTitle:         notionapi.TitleProperty{Title: richText(rec.Title)},
		PropertyRequestedDate: notionapi.DateProperty{Date: &notionapi.DateObject{Start: &requested}},
		PropertyLeadSource:    notionapi.MultiSelectProperty{MultiSelect: []notionapi.Option{{Name: rec.LeadSource}}},
		PropertyStatus:        notionapi.StatusProperty{Status: notionapi.Status{Name: rec.Status}},
		// notes live in the page body; the property is cleared
		PropertyGeneralNotes: notionapi.RichTextProperty{RichText: richText("")},
	}
	if rec.WebsiteURL != "" {
		props[PropertyWebsiteURL] = notionapi.URLProperty{URL: rec.WebsiteURL}
	}
	if rec.LinkedInURL != "" {
		props[PropertyLinkedInURL] = notionapi.URLProperty{URL: rec.LinkedInURL}
	}
	return props
}

func noteBlocks(notes []string) []notionapi.Block {
	blocks := make([]notionapi.Block, 0, len(notes))
	for _, chunk := range notes {
		blocks = append(blocks, &notionapi.ParagraphBlock{
			BasicBlock: notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: notionapi.BlockTypeParagraph},
			Paragraph:  notionapi.Paragraph{RichText: richText(chunk)},
		})
	}
	return blocks
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}}}
}
