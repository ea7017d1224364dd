package s3

import (
	"fmt"
	"mime"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/prn-tf/alexander-uplink/internal/domain"
	"github.com/prn-tf/alexander-uplink/internal/pkg/crypto"
)

// DefaultContentType is sent when the file extension is unknown.
const DefaultContentType = "application/octet-stream"

// randomTokenLength is the length of the %rnd placeholder.
const randomTokenLength = 8

// PrefixResolver expands the placeholders of an object prefix pattern.
type PrefixResolver interface {
	Resolve(pattern string) (string, error)
}

// TimePrefixResolver expands date and time placeholders against a clock:
//
//	%y year, %mo month, %d day, %h hour, %mi minute, %s second,
//	%ms millisecond, %unix unix seconds, %rnd random [a-z0-9] token
type TimePrefixResolver struct {
	Now func() time.Time
}

// Resolve implements PrefixResolver.
func (r TimePrefixResolver) Resolve(pattern string) (string, error) {
	if !strings.Contains(pattern, "%") {
		return pattern, nil
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	t := now().UTC()

	replacements := []string{
		"%unix", strconv.FormatInt(t.Unix(), 10),
		"%ms", fmt.Sprintf("%03d", t.Nanosecond()/int(time.Millisecond)),
		"%mo", fmt.Sprintf("%02d", int(t.Month())),
		"%mi", fmt.Sprintf("%02d", t.Minute()),
		"%y", strconv.Itoa(t.Year()),
		"%d", fmt.Sprintf("%02d", t.Day()),
		"%h", fmt.Sprintf("%02d", t.Hour()),
		"%s", fmt.Sprintf("%02d", t.Second()),
	}
	if strings.Contains(pattern, "%rnd") {
		token, err := crypto.RandomString(randomTokenLength)
		if err != nil {
			return "", err
		}
		replacements = append([]string{"%rnd", token}, replacements...)
	}

	return strings.NewReplacer(replacements...).Replace(pattern), nil
}

// commonTypes covers upload formats missing from the built-in mime table on
// hosts without /etc/mime.types.
var commonTypes = map[string]string{
	".txt":  "text/plain",
	".log":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".bmp":  "image/bmp",
	".ico":  "image/x-icon",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".zip":  "application/zip",
}

// ContentType resolves the MIME type of fileName from its extension.
func ContentType(fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if ext == "" {
		return DefaultContentType
	}
	if ct, ok := commonTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return DefaultContentType
}

// ObjectKey joins the resolved prefix and the file name, dropping the
// extension when the configuration asks for it for the file's category.
func ObjectKey(prefix, fileName string, cfg domain.UploadConfig) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if shouldRemoveExtension(name, cfg) {
		name = strings.TrimSuffix(name, path.Ext(name))
	}

	prefix = strings.TrimLeft(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + name
}

func shouldRemoveExtension(name string, cfg domain.UploadConfig) bool {
	if path.Ext(name) == "" || path.Ext(name) == name {
		return false
	}
	category, _, _ := strings.Cut(ContentType(name), "/")
	switch category {
	case "image":
		return cfg.RemoveExtensionImage
	case "video":
		return cfg.RemoveExtensionVideo
	case "text":
		return cfg.RemoveExtensionText
	}
	return false
}
