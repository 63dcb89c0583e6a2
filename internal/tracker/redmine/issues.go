package redmine

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/h0rv/bugbox/internal/domain"
	"github.com/h0rv/bugbox/internal/logger"
	"github.com/h0rv/bugbox/internal/tracker"
)

const screenshotName = "screenshot.png"

// AddIssue files a new issue. The screenshot, if any, is uploaded first and
// referenced by token in the create call. If the create call fails the upload
// is left orphaned on the server.
func (t *Tracker) AddIssue(ctx context.Context, draft domain.IssueDraft) (*domain.Issue, error) {
	cred, err := t.credential(ctx)
	if err != nil {
		return nil, err
	}

	meta := draft.Meta.WithoutScreenshot()
	if meta.Version == 0 {
		meta.Version = domain.MetaVersion
	}
	encoded, err := domain.EncodeMeta(meta)
	if err != nil {
		return nil, err
	}

	payload := issuePayload{
		ProjectID:   draft.ProjectID,
		Subject:     draft.Title,
		Description: draft.Description,
		StatusID:    draft.GroupID,
		CustomFields: []fieldValue{
			{ID: fieldPageURL, Value: meta.URL},
			{ID: fieldScreenSize, Value: meta.Viewport.String()},
			{ID: fieldOS, Value: meta.OS},
			{ID: fieldBrowser, Value: meta.Browser},
			{ID: fieldMeta, Value: encoded},
		},
	}

	if uri := draft.ScreenshotDataURI(); uri != "" {
		ref, err := t.upload(ctx, cred, uri)
		if err != nil {
			return nil, err
		}
		payload.Uploads = []uploadRef{ref}
	}

	var resp issueResponse
	err = t.client.Do(ctx, tracker.Request{
		Method:     http.MethodPost,
		Path:       "/issues.json",
		JSON:       issueRequest{Issue: payload},
		Credential: cred,
	}, &resp)
	if err != nil {
		if len(payload.Uploads) > 0 {
			logger.Warn().Str("tracker", Name).Str("upload", payload.Uploads[0].Token).Msg("issue creation failed, upload left orphaned")
		}
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}

	rec := resp.Issue
	group := domain.Group{ID: itoa(rec.Status.ID), Name: rec.Status.Name}

	logger.Info().Str("tracker", Name).Int("issue", rec.ID).Str("project", draft.ProjectID).Msg("issue created")

	return domain.NewIssue(domain.IssueFields{
		ID:           itoa(rec.ID),
		Author:       domain.Author{ID: itoa(rec.Author.ID), Name: rec.Author.Name},
		Title:        rec.Subject,
		Description:  rec.Description,
		Group:        group,
		LastActivity: rec.UpdatedOn,
		Attachments:  toAttachments(rec.Attachments),
		URL:          t.client.BaseURL() + "/issues/" + itoa(rec.ID),
	}, meta), nil
}

// AddIssueScreenshot uploads dataURI and, when issue is non-nil, attaches the
// upload to it. The returned attachment carries the upload token.
func (t *Tracker) AddIssueScreenshot(ctx context.Context, is *domain.Issue, dataURI string) (*domain.Attachment, error) {
	if dataURI == "" {
		return nil, nil
	}

	cred, err := t.credential(ctx)
	if err != nil {
		return nil, err
	}

	ref, err := t.upload(ctx, cred, dataURI)
	if err != nil {
		return nil, err
	}

	if is != nil {
		err = t.client.Do(ctx, tracker.Request{
			Method:     http.MethodPut,
			Path:       "/issues/" + url.PathEscape(is.ID) + ".json",
			JSON:       issueRequest{Issue: issuePayload{Uploads: []uploadRef{ref}}},
			Credential: cred,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to attach screenshot to issue %s: %w", is.ID, err)
		}
	}

	return &domain.Attachment{
		Name:     ref.Filename,
		MimeType: ref.ContentType,
		Token:    ref.Token,
	}, nil
}

// ChangeIssueGroup moves an issue to another status.
func (t *Tracker) ChangeIssueGroup(ctx context.Context, issueID, groupID string) (*domain.IssueRef, error) {
	cred, err := t.credential(ctx)
	if err != nil {
		return nil, err
	}

	err = t.client.Do(ctx, tracker.Request{
		Method:     http.MethodPut,
		Path:       "/issues/" + url.PathEscape(issueID) + ".json",
		JSON:       issueRequest{Issue: issuePayload{StatusID: groupID}},
		Credential: cred,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to move issue %s: %w", issueID, err)
	}

	return &domain.IssueRef{ID: issueID, GroupID: groupID}, nil
}

// GetIssueActions returns one move action per issue status.
func (t *Tracker) GetIssueActions(ctx context.Context) ([]domain.Action, error) {
	cred, err := t.credential(ctx)
	if err != nil {
		return nil, err
	}

	var resp issueStatusesResponse
	err = t.client.Do(ctx, tracker.Request{
		Method:     http.MethodGet,
		Path:       "/issue_statuses.json",
		Credential: cred,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to list issue statuses: %w", err)
	}

	actions := make([]domain.Action, len(resp.IssueStatuses))
	for i, s := range resp.IssueStatuses {
		actions[i] = domain.Action{
			ID:      "move-" + itoa(s.ID),
			Name:    "Move to " + s.Name,
			GroupID: itoa(s.ID),
		}
	}
	return actions, nil
}

func (t *Tracker) upload(ctx context.Context, cred tracker.Credential, dataURI string) (uploadRef, error) {
	mediaType, data, err := tracker.DecodeDataURI(dataURI)
	if err != nil {
		return uploadRef{}, fmt.Errorf("invalid screenshot: %w", err)
	}

	var resp uploadResponse
	err = t.client.Do(ctx, tracker.Request{
		Method:      http.MethodPost,
		Path:        "/uploads.json",
		Query:       url.Values{"filename": {screenshotName}},
		Body:        bytes.NewReader(data),
		ContentType: "application/octet-stream",
		Credential:  cred,
	}, &resp)
	if err != nil {
		return uploadRef{}, fmt.Errorf("failed to upload screenshot: %w", err)
	}

	return uploadRef{
		Token:       resp.Upload.Token,
		Filename:    screenshotName,
		ContentType: mediaType,
	}, nil
}
