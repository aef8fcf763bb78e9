package recovery

import (
	"fmt"
	"path"
	"strings"

	"github.com/user/agentloop/pkg/history"
	"github.com/user/agentloop/pkg/llm"
)

// stripWhere removes matching attachments from every event and returns the
// rewritten events by id.
func stripWhere(events []history.Event, drop func(history.Attachment) bool, note func(history.Attachment) string) map[string]history.Event {
	changed := make(map[string]history.Event)
	for _, e := range events {
		if repaired, ok := history.StripAttachments(e, drop, note); ok {
			changed[e.EventID()] = repaired
		}
	}
	return changed
}

func fileName(uri string) string {
	return path.Base(strings.TrimRight(uri, "/"))
}

func refersTo(a history.Attachment, fileID string) bool {
	if a.Kind != history.AttachmentFile {
		return false
	}
	return a.FileURI == fileID || fileName(a.FileURI) == fileID
}

func fileNote(problem llm.FileProblem) func(history.Attachment) string {
	return func(a history.Attachment) string {
		id := fileName(a.FileURI)
		switch problem {
		case llm.FileProcessing:
			return fmt.Sprintf("[file %s is still processing]", id)
		case llm.FilePermissionDenied:
			return fmt.Sprintf("[file %s is not accessible]", id)
		default:
			return fmt.Sprintf("[file %s expired]", id)
		}
	}
}

// RepairFile replaces references to fileID with a placeholder note. An
// empty fileID strips every file attachment.
func RepairFile(events []history.Event, problem llm.FileProblem, fileID string) map[string]history.Event {
	drop := func(a history.Attachment) bool { return refersTo(a, fileID) }
	if fileID == "" {
		drop = func(a history.Attachment) bool { return a.Kind == history.AttachmentFile }
	}
	return stripWhere(events, drop, fileNote(problem))
}

// RepairMimeType strips every attachment of the given mime type.
func RepairMimeType(events []history.Event, mimeType string) map[string]history.Event {
	return stripWhere(events,
		func(a history.Attachment) bool { return strings.EqualFold(a.MimeType, mimeType) },
		func(history.Attachment) string {
			return fmt.Sprintf("[attachment of type %s removed: unsupported]", mimeType)
		})
}

// repairFor maps err to the history repair it calls for. ok is false when
// err is not a repairable failure.
func repairFor(events []history.Event, err error) (changed map[string]history.Event, kind string, ok bool) {
	if mimeType, found := llm.UnsupportedMimeType(err); found {
		return RepairMimeType(events, mimeType), "unsupported_mime_type", true
	}
	if problem, fileID := llm.FileError(err); problem != llm.FileOK {
		return RepairFile(events, problem, fileID), "file_reference", true
	}
	return nil, "", false
}
