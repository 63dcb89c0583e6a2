package trello

import (
	"encoding/base64"
	"errors"
	"regexp"

	"github.com/h0rv/bugbox/internal/domain"
	"github.com/h0rv/bugbox/internal/logger"
)

const metaAttachmentName = "Issue URL"

var metaFragment = regexp.MustCompile(`#issue-(.+)$`)

// encodeMetaURL packs meta into the fragment of the reported page address.
func encodeMetaURL(address string, m domain.Meta) (string, error) {
	raw, err := domain.EncodeMeta(m.WithoutScreenshot())
	if err != nil {
		return "", err
	}
	return address + "#issue-" + base64.StdEncoding.EncodeToString([]byte(raw)), nil
}

// decodeMetaURL extracts meta from an attachment URL written by encodeMetaURL.
func decodeMetaURL(u string) (domain.Meta, error) {
	m := metaFragment.FindStringSubmatch(u)
	if m == nil {
		return domain.Meta{}, &domain.MalformedDataError{Field: "meta", Err: errors.New("no issue fragment")}
	}

	raw, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		return domain.Meta{}, &domain.MalformedDataError{Field: "meta", Err: err}
	}
	return domain.DecodeMeta(string(raw))
}

func decodeMetaSoft(cardID, u string) domain.Meta {
	if u == "" {
		return domain.Meta{}
	}
	meta, err := decodeMetaURL(u)
	if err != nil {
		logger.Debug().Str("tracker", Name).Str("card", cardID).Err(err).Msg("ignoring unreadable issue meta")
		return domain.Meta{}
	}
	return meta
}
