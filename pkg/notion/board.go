package notion

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// Board statuses for exception pages.
const (
	StatusNeedsReview = "Needs Review"
	StatusResolved    = "Resolved"
)

// ExceptionCard is the review-board view of an exception job.
type ExceptionCard struct {
	JobID         string
	Sender        string
	InvoiceNumber string
	Amount        string
	Confidence    float64
	Reason        string
}

// Board pushes exception jobs to a Notion review database and marks them
// resolved once a correction is approved.
type Board struct {
	client Client
	dbID   string
}

// NewBoard creates a review board over the given database.
func NewBoard(client Client, dbID string) *Board {
	return &Board{client: client, dbID: dbID}
}

// CreateException adds a card for the job. Returns the created page ID.
func (b *Board) CreateException(ctx context.Context, card ExceptionCard) (string, error) {
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(b.dbID),
		},
		Properties: notionapi.Properties{
			"Job ID": notionapi.TitleProperty{
				Title: richText(card.JobID),
			},
			"Sender": notionapi.RichTextProperty{
				RichText: richText(card.Sender),
			},
			"Invoice": notionapi.RichTextProperty{
				RichText: richText(card.InvoiceNumber),
			},
			"Amount": notionapi.RichTextProperty{
				RichText: richText(card.Amount),
			},
			"Confidence": notionapi.NumberProperty{
				Number: card.Confidence,
			},
			"Reason": notionapi.RichTextProperty{
				RichText: richText(card.Reason),
			},
			"Status": notionapi.SelectProperty{
				Select: notionapi.Option{Name: StatusNeedsReview},
			},
		},
	}

	page, err := b.client.CreatePage(ctx, req)
	if err != nil {
		return "", eris.Wrapf(err, "notion: create exception card for job %s", card.JobID)
	}
	return string(page.ID), nil
}

// Resolve flips the job's card to resolved. Missing cards are not an
// error; the board is advisory.
func (b *Board) Resolve(ctx context.Context, jobID string) error {
	pageID, err := b.findPage(ctx, jobID)
	if err != nil {
		return err
	}
	if pageID == "" {
		return nil
	}

	_, err = b.client.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{
		Properties: notionapi.Properties{
			"Status": notionapi.SelectProperty{
				Select: notionapi.Option{Name: StatusResolved},
			},
		},
	})
	return eris.Wrap(err, fmt.Sprintf("notion: resolve card for job %s", jobID))
}

func (b *Board) findPage(ctx context.Context, jobID string) (string, error) {
	resp, err := b.client.QueryDatabase(ctx, b.dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Job ID",
			RichText: &notionapi.TextFilterCondition{Equals: jobID},
		},
		PageSize: 1,
	})
	if err != nil {
		return "", eris.Wrapf(err, "notion: find card for job %s", jobID)
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return string(resp.Results[0].ID), nil
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: s},
	}}
}
