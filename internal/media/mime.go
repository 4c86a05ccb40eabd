package media

import "github.com/castwrite/castwrite/pkg/models"

// mimeEntry maps a declared upload MIME type to the source kind and the
// scratch-file extension used for it. Lookup table, not a conditional
// chain, so new types are data changes.
type mimeEntry struct {
	Kind models.SourceKind
	Ext  string
}

var allowedMIME = map[string]mimeEntry{
	"audio/mpeg":       {models.SourceUpload, ".mp3"},
	"audio/mp3":        {models.SourceUpload, ".mp3"},
	"audio/wav":        {models.SourceUpload, ".wav"},
	"audio/x-wav":      {models.SourceUpload, ".wav"},
	"audio/mp4":        {models.SourceUpload, ".m4a"},
	"audio/m4a":        {models.SourceUpload, ".m4a"},
	"audio/ogg":        {models.SourceUpload, ".ogg"},
	"audio/webm":       {models.SourceUpload, ".weba"},
	"audio/flac":       {models.SourceUpload, ".flac"},
	"video/mp4":        {models.SourceVideo, ".mp4"},
	"video/webm":       {models.SourceVideo, ".webm"},
	"video/mpeg":       {models.SourceVideo, ".mpeg"},
	"video/quicktime":  {models.SourceVideo, ".mov"},
	"video/x-matroska": {models.SourceVideo, ".mkv"},
}

// KindForMIME returns the source kind for a declared MIME type, or false
// when the type is not on the upload allow-list.
func KindForMIME(mime string) (models.SourceKind, bool) {
	e, ok := allowedMIME[mime]
	return e.Kind, ok
}

// ExtensionForMIME returns the scratch-file extension for an allowed
// MIME type.
func ExtensionForMIME(mime string) string {
	if e, ok := allowedMIME[mime]; ok {
		return e.Ext
	}
	return ".bin"
}
