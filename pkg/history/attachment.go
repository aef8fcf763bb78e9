package history

import (
	"errors"
	"fmt"
)

// AttachmentKind selects the representation of an Attachment.
type AttachmentKind string

const (
	AttachmentInline AttachmentKind = "inline"
	AttachmentFile   AttachmentKind = "file"
)

// ErrInvalidAttachment is returned by Attachment.Validate.
var ErrInvalidAttachment = errors.New("invalid attachment")

// Attachment is media carried by an event, either inline base64 data or a
// reference to a file previously uploaded to the provider. Exactly one
// representation is populated.
type Attachment struct {
	Kind     AttachmentKind `json:"kind"`
	MimeType string         `json:"mimeType"`
	Data     string         `json:"dataBase64,omitempty"`
	FileURI  string         `json:"fileUri,omitempty"`
	Caption  string         `json:"caption,omitempty"`
}

// InlineAttachment builds an inline attachment from base64 data.
func InlineAttachment(mimeType, dataBase64, caption string) Attachment {
	return Attachment{Kind: AttachmentInline, MimeType: mimeType, Data: dataBase64, Caption: caption}
}

// FileAttachment builds an attachment referencing a provider file URI.
func FileAttachment(mimeType, fileURI, caption string) Attachment {
	return Attachment{Kind: AttachmentFile, MimeType: mimeType, FileURI: fileURI, Caption: caption}
}

// Validate checks that exactly the representation named by Kind is populated.
func (a Attachment) Validate() error {
	if a.MimeType == "" {
		return fmt.Errorf("%w: missing mime type", ErrInvalidAttachment)
	}
	switch a.Kind {
	case AttachmentInline:
		if a.Data == "" || a.FileURI != "" {
			return fmt.Errorf("%w: inline attachment must carry data only", ErrInvalidAttachment)
		}
	case AttachmentFile:
		if a.FileURI == "" || a.Data != "" {
			return fmt.Errorf("%w: file attachment must carry a file uri only", ErrInvalidAttachment)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidAttachment, a.Kind)
	}
	return nil
}

// AttachmentsOf returns the attachments carried by e.
func AttachmentsOf(e Event) []Attachment {
	switch ev := e.(type) {
	case ParticipantUtterance:
		return ev.Attachments
	case OwnUtterance:
		return ev.Attachments
	case ParticipantEditMessage:
		return ev.Attachments
	case OwnEditMessage:
		return ev.Attachments
	case ToolResult:
		return ev.Attachments
	}
	return nil
}

// StripAttachments removes every attachment of e for which drop returns
// true and appends note(a) for each removed attachment to the event's text
// (or result for tool results). It reports whether anything was removed;
// when nothing matched, e is returned unchanged.
func StripAttachments(e Event, drop func(Attachment) bool, note func(Attachment) string) (Event, bool) {
	atts := AttachmentsOf(e)
	if len(atts) == 0 {
		return e, false
	}
	var kept []Attachment
	var notes string
	for _, a := range atts {
		if drop(a) {
			notes += "\n" + note(a)
			continue
		}
		kept = append(kept, a)
	}
	if notes == "" {
		return e, false
	}

	switch ev := e.(type) {
	case ParticipantUtterance:
		ev.Attachments, ev.Text = kept, ev.Text+notes
		return ev, true
	case OwnUtterance:
		ev.Attachments, ev.Text = kept, ev.Text+notes
		return ev, true
	case ParticipantEditMessage:
		ev.Attachments, ev.Text = kept, ev.Text+notes
		return ev, true
	case OwnEditMessage:
		ev.Attachments, ev.Text = kept, ev.Text+notes
		return ev, true
	case ToolResult:
		ev.Attachments, ev.Result = kept, ev.Result+notes
		return ev, true
	}
	return e, false
}
