package trello

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"

	"github.com/h0rv/bugbox/internal/domain"
	"github.com/h0rv/bugbox/internal/logger"
	"github.com/h0rv/bugbox/internal/tracker"
)

const (
	screenshotName     = "Screenshot"
	screenshotFilename = "screenshot.png"
)

// AddIssue creates a card in the draft's list, attaches the meta link and then
// the screenshot. Steps run in order; a failure leaves the earlier steps in place.
func (t *Tracker) AddIssue(ctx context.Context, draft domain.IssueDraft) (*domain.Issue, error) {
	cred, err := t.credential(ctx)
	if err != nil {
		return nil, err
	}

	var c card
	err = t.client.Do(ctx, tracker.Request{
		Method:     http.MethodPost,
		Path:       "/cards",
		Query:      url.Values{"attachments": {"true"}},
		JSON:       cardPayload{Name: draft.Title, Desc: draft.Description, IDList: draft.GroupID},
		Credential: cred,
	}, &c)
	if err != nil {
		return nil, fmt.Errorf("failed to create card: %w", err)
	}

	meta := draft.Meta.WithoutScreenshot()
	if meta.Version == 0 {
		meta.Version = domain.MetaVersion
	}
	address := meta.URL
	if address == "" {
		address = t.site
	}
	link, err := encodeMetaURL(address, meta)
	if err != nil {
		return nil, err
	}

	var metaAtt attachment
	err = t.client.Do(ctx, tracker.Request{
		Method:     http.MethodPost,
		Path:       "/cards/" + url.PathEscape(c.ID) + "/attachments",
		JSON:       linkPayload{Name: metaAttachmentName, URL: link},
		Credential: cred,
	}, &metaAtt)
	if err != nil {
		return nil, fmt.Errorf("failed to attach meta to card %s: %w", c.ID, err)
	}
	c.Attachments = append(c.Attachments, metaAtt)

	if uri := draft.ScreenshotDataURI(); uri != "" {
		shot, err := t.attachScreenshot(ctx, cred, c.ID, uri)
		if err != nil {
			return nil, err
		}
		c.Attachments = append(c.Attachments, shot)
	}

	logger.Info().Str("tracker", Name).Str("card", c.ID).Str("list", c.IDList).Msg("card created")

	files, _ := splitAttachments(c.Attachments)
	return domain.NewIssue(domain.IssueFields{
		ID:           c.ID,
		Author:       domain.Author{ID: c.IDMemberCreator},
		Title:        c.Name,
		Description:  c.Desc,
		Group:        domain.Group{ID: c.IDList},
		LastActivity: c.DateLastActivity,
		Attachments:  files,
		URL:          cardURL(c),
	}, meta), nil
}

// AddIssueScreenshot attaches dataURI to the issue's card. Trello has no
// detached uploads, so a nil issue is rejected.
func (t *Tracker) AddIssueScreenshot(ctx context.Context, is *domain.Issue, dataURI string) (*domain.Attachment, error) {
	if dataURI == "" {
		return nil, nil
	}
	if is == nil {
		return nil, errors.New("trello: screenshot needs a card to attach to")
	}

	cred, err := t.credential(ctx)
	if err != nil {
		return nil, err
	}

	a, err := t.attachScreenshot(ctx, cred, is.ID, dataURI)
	if err != nil {
		return nil, err
	}
	att := toAttachment(a)
	return &att, nil
}

func (t *Tracker) attachScreenshot(ctx context.Context, cred tracker.Credential, cardID, dataURI string) (attachment, error) {
	mediaType, data, err := tracker.DecodeDataURI(dataURI)
	if err != nil {
		return attachment{}, fmt.Errorf("invalid screenshot: %w", err)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("name", screenshotName); err != nil {
		return attachment{}, err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, screenshotFilename))
	h.Set("Content-Type", mediaType)
	part, err := w.CreatePart(h)
	if err != nil {
		return attachment{}, err
	}
	if _, err := part.Write(data); err != nil {
		return attachment{}, err
	}
	if err := w.Close(); err != nil {
		return attachment{}, err
	}

	var a attachment
	err = t.client.Do(ctx, tracker.Request{
		Method:      http.MethodPost,
		Path:        "/cards/" + url.PathEscape(cardID) + "/attachments",
		Body:        &body,
		ContentType: w.FormDataContentType(),
		Credential:  cred,
	}, &a)
	if err != nil {
		return attachment{}, fmt.Errorf("failed to attach screenshot to card %s: %w", cardID, err)
	}
	return a, nil
}

// ChangeIssueGroup moves a card to another list.
func (t *Tracker) ChangeIssueGroup(ctx context.Context, issueID, groupID string) (*domain.IssueRef, error) {
	cred, err := t.credential(ctx)
	if err != nil {
		return nil, err
	}

	var c card
	err = t.client.Do(ctx, tracker.Request{
		Method:     http.MethodPut,
		Path:       "/cards/" + url.PathEscape(issueID),
		JSON:       cardPayload{IDList: groupID},
		Credential: cred,
	}, &c)
	if err != nil {
		return nil, fmt.Errorf("failed to move card %s: %w", issueID, err)
	}

	ref := &domain.IssueRef{ID: issueID, GroupID: c.IDList}
	if ref.GroupID == "" {
		ref.GroupID = groupID
	}
	return ref, nil
}

// GetIssueActions is not supported on Trello.
func (t *Tracker) GetIssueActions(ctx context.Context) ([]domain.Action, error) {
	return nil, &tracker.NotImplementedError{Backend: Name, Op: "GetIssueActions"}
}
