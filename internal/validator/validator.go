// Package validator checks governance events against the protocol schema and
// decodes their content into typed records. Nothing past this boundary ever
// sees a raw parse error.
package validator

import (
	"agora/backend/internal/keys"
	"agora/backend/internal/models"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Result is the outcome of Validate.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Validator validates events. The zero value checks schema only.
type Validator struct {
	// VerifySignatures also recomputes the id and checks the signature.
	VerifySignatures bool
}

// New returns a validator; verify enables id and signature checks.
func New(verify bool) *Validator {
	return &Validator{VerifySignatures: verify}
}

// Validate reports whether evt conforms to its kind's schema.
func (v *Validator) Validate(evt models.Event) Result {
	_, err := v.Decode(evt)
	if err == nil {
		return Result{Valid: true}
	}
	var de *DecodeError
	if errors.As(err, &de) {
		return Result{Valid: false, Errors: de.Reasons}
	}
	return Result{Valid: false, Errors: []string{err.Error()}}
}

// Decode validates evt and returns its typed content or a *DecodeError.
func (v *Validator) Decode(evt models.Event) (Content, error) {
	var reasons []string
	if strings.TrimSpace(evt.PubKey) == "" {
		reasons = append(reasons, "missing pubkey")
	}
	if strings.TrimSpace(evt.ID) == "" {
		reasons = append(reasons, "missing id")
	}
	if v != nil && v.VerifySignatures && len(reasons) == 0 {
		if err := keys.Verify(evt); err != nil {
			reasons = append(reasons, err.Error())
		}
	}

	var (
		content Content
		more    []string
	)
	switch evt.Kind {
	case models.KindCommunity:
		content, more = decodeCommunity(evt)
	case models.KindProposal:
		content, more = decodeProposal(evt)
	case models.KindVote:
		content, more = decodeVote(evt)
	case models.KindComment:
		content, more = decodeComment(evt)
	case models.KindModeration:
		content, more = decodeModeration(evt)
	case models.KindDeletion:
		content, more = decodeDeletion(evt)
	default:
		more = []string{fmt.Sprintf("unsupported kind %d", evt.Kind)}
	}
	reasons = append(reasons, more...)

	if len(reasons) > 0 {
		return nil, &DecodeError{Kind: evt.Kind, EventID: evt.ID, Reasons: reasons}
	}
	return content, nil
}

func decodeCommunity(evt models.Event) (Content, []string) {
	var reasons []string
	c := CommunityContent{ID: evt.Tags.Value("d")}
	if c.ID == "" {
		reasons = append(reasons, "missing d tag")
	}
	for _, t := range evt.Tags {
		if t.Key() != "p" || t.Value() == "" {
			continue
		}
		c.Members = append(c.Members, t.Value())
		if len(t) >= 4 && t[3] == "moderator" {
			c.Moderators = append(c.Moderators, t.Value())
		}
	}
	if len(c.Members) == 0 {
		reasons = append(reasons, "missing p tag")
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal([]byte(evt.Content), &body); err != nil {
		reasons = append(reasons, "content is not a JSON object")
		return nil, reasons
	}
	if err := json.Unmarshal([]byte(evt.Content), &c); err != nil {
		reasons = append(reasons, "content fields have wrong types")
		return nil, reasons
	}
	if _, ok := body["name"]; !ok || strings.TrimSpace(c.Name) == "" {
		reasons = append(reasons, "missing name")
	}
	c.Tags = append(c.Tags, evt.Tags.Values("t")...)
	return c, reasons
}

func decodeProposal(evt models.Event) (Content, []string) {
	var reasons []string
	p := ProposalContent{
		ID:          evt.Tags.Value("d"),
		CommunityID: evt.Tags.Value("e"),
	}
	if p.CommunityID == "" {
		reasons = append(reasons, "missing e tag")
	}
	if p.ID == "" {
		reasons = append(reasons, "missing d tag")
	}

	if err := json.Unmarshal([]byte(evt.Content), &p); err != nil {
		reasons = append(reasons, "content is not a valid proposal object")
		return nil, reasons
	}
	if strings.TrimSpace(p.Title) == "" {
		reasons = append(reasons, "missing title")
	}
	if len(p.Options) < 2 {
		reasons = append(reasons, "options must contain at least 2 entries")
	}
	// Zero selects the default voting period.
	switch {
	case p.EndsAt < 0:
		reasons = append(reasons, "endsAt must not be negative")
	case p.EndsAt > 0 && p.EndsAt <= evt.CreatedAt:
		reasons = append(reasons, "endsAt must be after created_at")
	}

	switch {
	case evt.Tags.Has("t", string(models.CategoryKick)):
		p.Category = string(models.CategoryKick)
		p.TargetPubkey = evt.Tags.Value("p")
		if p.TargetPubkey == "" {
			reasons = append(reasons, "kick proposal missing p tag")
		}
	case p.Category == string(models.CategoryKick):
		reasons = append(reasons, "kick proposal missing t tag")
	case p.Category == string(models.CategoryGovernance), evt.Tags.Has("t", string(models.CategoryGovernance)):
		p.Category = string(models.CategoryGovernance)
	default:
		p.Category = string(models.CategoryGeneral)
	}
	return p, reasons
}

func decodeVote(evt models.Event) (Content, []string) {
	var reasons []string
	v := VoteContent{ProposalID: evt.Tags.Value("e")}
	if v.ProposalID == "" {
		reasons = append(reasons, "missing e tag")
	}
	idx, err := parseOptionIndex(evt.Content)
	if err != nil {
		reasons = append(reasons, err.Error())
		return nil, reasons
	}
	v.OptionIndex = idx
	return v, reasons
}

// parseOptionIndex accepts {"optionIndex": n} as well as a bare "n".
func parseOptionIndex(content string) (int, error) {
	trimmed := strings.TrimSpace(content)
	if n, err := strconv.Atoi(trimmed); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative option index")
		}
		return n, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return 0, fmt.Errorf("content is neither an integer nor a JSON object")
	}
	raw, ok := body["optionIndex"]
	if !ok {
		return 0, fmt.Errorf("missing optionIndex")
	}
	num, ok := raw.(json.Number)
	if !ok {
		return 0, fmt.Errorf("optionIndex is not a number")
	}
	n, err := num.Int64()
	if err != nil {
		return 0, fmt.Errorf("optionIndex is not an integer")
	}
	if n < 0 {
		return 0, fmt.Errorf("negative option index")
	}
	return int(n), nil
}

func decodeComment(evt models.Event) (Content, []string) {
	c := CommentContent{ProposalID: evt.Tags.Value("e"), Text: evt.Content}
	if c.ProposalID == "" {
		return nil, []string{"missing e tag"}
	}
	return c, nil
}

func decodeModeration(evt models.Event) (Content, []string) {
	var reasons []string
	m := ModerationContent{
		CommunityID: evt.Tags.Value("e"),
		Action:      models.ModerationAction(evt.Tags.Value("action")),
		Target:      evt.Tags.Value("p"),
		PostID:      evt.Tags.Value("q"),
	}
	if m.CommunityID == "" {
		reasons = append(reasons, "missing e tag")
	}
	if !m.Action.IsValid() {
		reasons = append(reasons, fmt.Sprintf("unknown action %q", m.Action))
	}
	if m.Target == "" && m.PostID == "" {
		reasons = append(reasons, "missing target")
	}

	// Content is either {"reason": "...", "metadata": {...}} or plain text.
	var body struct {
		Reason   string            `json:"reason"`
		Metadata map[string]string `json:"metadata"`
	}
	if strings.HasPrefix(strings.TrimSpace(evt.Content), "{") {
		if err := json.Unmarshal([]byte(evt.Content), &body); err != nil {
			reasons = append(reasons, "content is not a valid moderation object")
		}
		m.Reason, m.Metadata = body.Reason, body.Metadata
	} else {
		m.Reason = evt.Content
	}
	return m, reasons
}

func decodeDeletion(evt models.Event) (Content, []string) {
	d := DeletionContent{ProposalIDs: evt.Tags.Values("e"), Reason: evt.Content}
	if len(d.ProposalIDs) == 0 {
		return nil, []string{"missing e tag"}
	}
	return d, nil
}
