package clipsync

import (
	"strings"
	"time"
)

// Validation limits for outgoing items.
const (
	MaxContentBytes    = 100 * 1024
	MaxFileBytes       = 10 * 1024 * 1024
	MaxDeviceNameChars = 255
)

// ContentType is the closed set of payload kinds an item can carry.
type ContentType string

const (
	ContentText      ContentType = "text"
	ContentHTML      ContentType = "html"
	ContentMarkdown  ContentType = "markdown"
	ContentImagePNG  ContentType = "image/png"
	ContentImageJPEG ContentType = "image/jpeg"
	ContentImageGIF  ContentType = "image/gif"
	ContentFile      ContentType = "file"
)

// IsBinary reports whether the payload lives in blob storage rather than in
// the content column.
func (c ContentType) IsBinary() bool {
	switch c {
	case ContentImagePNG, ContentImageJPEG, ContentImageGIF, ContentFile:
		return true
	case ContentText, ContentHTML, ContentMarkdown:
		return false
	}
	return false
}

// Valid reports whether c is a member of the closed set.
func (c ContentType) Valid() bool {
	switch c {
	case ContentText, ContentHTML, ContentMarkdown,
		ContentImagePNG, ContentImageJPEG, ContentImageGIF, ContentFile:
		return true
	}
	return false
}

// DeviceType identifies the originating platform of an item.
type DeviceType string

const (
	DeviceWindows DeviceType = "windows"
	DeviceMacOS   DeviceType = "macos"
	DeviceLinux   DeviceType = "linux"
	DeviceAndroid DeviceType = "android"
	DeviceIOS     DeviceType = "ios"
	DeviceWeb     DeviceType = "web"
)

func (d DeviceType) Valid() bool {
	switch d {
	case DeviceWindows, DeviceMacOS, DeviceLinux, DeviceAndroid, DeviceIOS, DeviceWeb:
		return true
	}
	return false
}

// ItemMetadata carries binary-payload details: dimensions for images and the
// original filename for files.
type ItemMetadata struct {
	Width            int    `json:"width,omitempty"`
	Height           int    `json:"height,omitempty"`
	OriginalFilename string `json:"originalFilename,omitempty"`
}

// ClipboardItem is one clipboard entry with provenance and routing metadata.
// Items are value objects: the id is empty until the insert round-trip
// completes, and a delivered item is never patched in place afterwards —
// history refreshes replace it wholesale.
type ClipboardItem struct {
	ID      string
	UserID  string
	Content string

	ContentType    ContentType
	RichTextFormat string
	MimeType       string
	FileSizeBytes  int64
	Metadata       *ItemMetadata
	StoragePath    string

	DeviceType DeviceType
	DeviceName string

	// TargetDeviceTypes nil means broadcast to every device; a non-empty
	// slice restricts delivery to the listed platforms.
	TargetDeviceTypes []DeviceType

	IsEncrypted bool
	IsPublic    bool

	CreatedAt time.Time
}

// sanitizeContent strips null bytes and surrounding whitespace.
func sanitizeContent(content string) string {
	content = strings.ReplaceAll(content, "\x00", "")
	return strings.TrimSpace(content)
}

func validateTargets(targets []DeviceType) error {
	if targets == nil {
		return nil
	}
	if len(targets) == 0 {
		return &ValidationError{Field: "targetDeviceTypes", Message: "Target device list must not be empty; omit it to broadcast."}
	}
	for _, t := range targets {
		if !t.Valid() {
			return &ValidationError{Field: "targetDeviceTypes", Message: "Unknown target device type: " + string(t) + "."}
		}
	}
	return nil
}
