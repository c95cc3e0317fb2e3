package domain

import (
	"fmt"
	"strings"
	"time"
)

// Domain contains the record model shared by producers, storage, and the
// media downloader.

// SourceMode identifies the collection mode a record came from.
type SourceMode string

const (
	ModeKeyword SourceMode = "keyword"
	ModePostURL SourceMode = "post_url"
	ModeUser    SourceMode = "user"
	ModeOther   SourceMode = "other"
)

// NormalizeMode maps mode aliases onto the canonical set. Unknown values
// collapse to ModeOther so they still land in a well-defined output stream.
func NormalizeMode(value string) SourceMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "keyword":
		return ModeKeyword
	case "post_url", "url", "link", "comment":
		return ModePostURL
	case "user", "personal", "profile":
		return ModeUser
	default:
		return ModeOther
	}
}

// Kind identifies the record variant and therefore its output files.
type Kind string

const (
	KindPost    Kind = "posts"
	KindComment Kind = "comments"
	KindMedia   Kind = "media"
	KindProfile Kind = "profiles"
)

// Kinds lists every record variant in output order.
func Kinds() []Kind {
	return []Kind{KindPost, KindComment, KindMedia, KindProfile}
}

// Record is the unit flowing through dedup, the write queues, and (for media)
// the download pool. DedupKey must be derived from remote-assigned IDs so it
// is stable across process restarts.
type Record interface {
	Kind() Kind
	Mode() SourceMode
	Target() string
	DedupKey() string
	CSVRow() []string
	JSONRow() any
}

// Download status values for media records. A record leaves "pending" exactly
// once.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusExists  = "exists"
	StatusSkipped = "skipped"
)

// Post is a single post with its engagement counters.
type Post struct {
	SourceMode     SourceMode `json:"source_mode"`
	SourceTarget   string     `json:"source_target"`
	PostID         string     `json:"post_id"`
	UID            string     `json:"uid"`
	Author         string     `json:"author"`
	AuthorVerified bool       `json:"author_verified"`
	Content        string     `json:"content"`
	PostedAt       string     `json:"posted_at"`
	PostURL        string     `json:"post_url"`
	Reposts        int        `json:"reposts"`
	Comments       int        `json:"comments"`
	Likes          int        `json:"likes"`
}

// Title is the leading slice of the content, used as a short label in
// comment rows and summaries.
func (p Post) Title() string { return Truncate(p.Content, 40) }

func (p Post) Kind() Kind       { return KindPost }
func (p Post) Mode() SourceMode { return NormalizeMode(string(p.SourceMode)) }
func (p Post) Target() string   { return p.SourceTarget }

// DedupKey prefers the remote post ID; posts scraped from pages that hide the
// ID fall back to author plus a content prefix.
func (p Post) DedupKey() string {
	if p.PostID != "" {
		return "post_id:" + p.PostID
	}
	return fmt.Sprintf("user_content:%s:%s", p.UID, Truncate(p.Content, 80))
}

func (p Post) CSVRow() []string {
	return []string{
		string(p.Mode()), p.SourceTarget, p.PostID, p.PostURL, p.Author,
		boolWord(p.AuthorVerified), p.PostedAt,
		fmt.Sprintf("%d", p.Reposts), fmt.Sprintf("%d", p.Comments), fmt.Sprintf("%d", p.Likes),
		p.Title(), p.Content,
	}
}

func (p Post) JSONRow() any {
	type postRow struct {
		Post
		Title string `json:"title"`
	}
	return postRow{Post: p, Title: p.Title()}
}

// Comment is one comment (top-level or reply) attached to a post.
type Comment struct {
	SourceMode   SourceMode `json:"source_mode"`
	SourceTarget string     `json:"source_target"`
	PostID       string     `json:"post_id"`
	PostURL      string     `json:"post_url"`
	PostTitle    string     `json:"post_title"`
	PostAuthor   string     `json:"post_author"`
	PostedAt     string     `json:"posted_at"`
	Commenter    string     `json:"commenter"`
	IPLocation   string     `json:"ip_location"`
	Content      string     `json:"content"`
	CommentedAt  string     `json:"commented_at"`
	Level        string     `json:"level"`
}

func (c Comment) Kind() Kind       { return KindComment }
func (c Comment) Mode() SourceMode { return NormalizeMode(string(c.SourceMode)) }
func (c Comment) Target() string   { return c.SourceTarget }

func (c Comment) DedupKey() string {
	return strings.Join([]string{c.PostID, c.Commenter, Truncate(c.Content, 120), c.CommentedAt}, "|")
}

func (c Comment) CSVRow() []string {
	return []string{
		string(c.Mode()), c.SourceTarget, c.PostID, c.PostURL, c.PostTitle,
		c.PostAuthor, c.PostedAt, c.Commenter, c.IPLocation, c.Content,
		c.CommentedAt, c.Level,
	}
}

func (c Comment) JSONRow() any { return c }

// Media references an image or video attached to a post. LocalPath and
// Status are back-filled by the downloader, after which the record is
// re-submitted so the terminal status reaches durable output.
type Media struct {
	SourceMode   SourceMode `json:"source_mode"`
	SourceTarget string     `json:"source_target"`
	PostID       string     `json:"post_id"`
	PostURL      string     `json:"post_url"`
	Author       string     `json:"author"`
	MediaType    string     `json:"media_type"`
	MediaURL     string     `json:"media_url"`
	PreviewURL   string     `json:"preview_url"`
	LocalPath    string     `json:"local_path"`
	Status       string     `json:"status"`
	PostedAt     string     `json:"posted_at"`
}

func (m Media) Kind() Kind       { return KindMedia }
func (m Media) Mode() SourceMode { return NormalizeMode(string(m.SourceMode)) }
func (m Media) Target() string   { return m.SourceTarget }

func (m Media) DedupKey() string {
	return strings.Join([]string{m.PostID, m.MediaType, NormalizeMediaURL(m.MediaURL)}, "|")
}

func (m Media) CSVRow() []string {
	return []string{
		string(m.Mode()), m.SourceTarget, m.PostID, m.PostURL, m.Author,
		m.MediaType, m.MediaURL, m.PreviewURL, m.LocalPath, m.Status, m.PostedAt,
	}
}

func (m Media) JSONRow() any { return m }

// Profile captures a user's public profile at crawl time.
type Profile struct {
	UID            string `json:"uid"`
	ScreenName     string `json:"screen_name"`
	Gender         string `json:"gender"`
	Followers      int    `json:"followers"`
	Following      int    `json:"following"`
	Posts          int    `json:"posts"`
	Verified       bool   `json:"verified"`
	Description    string `json:"description"`
	Location       string `json:"location"`
	AvatarURL      string `json:"avatar_url"`
	CoverURL       string `json:"cover_url"`
	VerifiedReason string `json:"verified_reason"`
	ProfileURL     string `json:"profile_url"`
	SourceTarget   string `json:"source_target"`
	CrawledAt      string `json:"crawled_at"`
}

func (p Profile) Kind() Kind       { return KindProfile }
func (p Profile) Mode() SourceMode { return ModeUser }
func (p Profile) Target() string   { return p.SourceTarget }
func (p Profile) DedupKey() string { return p.UID }

func (p Profile) CSVRow() []string {
	return []string{
		p.UID, p.ScreenName, p.Gender,
		fmt.Sprintf("%d", p.Followers), fmt.Sprintf("%d", p.Following), fmt.Sprintf("%d", p.Posts),
		boolWord(p.Verified), p.Description, p.Location, p.AvatarURL, p.CoverURL,
		p.VerifiedReason, p.ProfileURL, p.SourceTarget, p.CrawledAt,
	}
}

func (p Profile) JSONRow() any { return p }

// Columns returns the CSV header for a record kind, matching CSVRow order.
func Columns(kind Kind) []string {
	switch kind {
	case KindPost:
		return []string{
			"source_mode", "source_target", "post_id", "post_url", "author",
			"author_verified", "posted_at", "reposts", "comments", "likes",
			"title", "content",
		}
	case KindComment:
		return []string{
			"source_mode", "source_target", "post_id", "post_url", "post_title",
			"post_author", "posted_at", "commenter", "ip_location", "content",
			"commented_at", "level",
		}
	case KindMedia:
		return []string{
			"source_mode", "source_target", "post_id", "post_url", "author",
			"media_type", "media_url", "preview_url", "local_path", "status",
			"posted_at",
		}
	case KindProfile:
		return []string{
			"uid", "screen_name", "gender", "followers", "following", "posts",
			"verified", "description", "location", "avatar_url", "cover_url",
			"verified_reason", "profile_url", "source_target", "crawled_at",
		}
	default:
		return nil
	}
}

// Timestamp renders t in the output layout used across all record kinds.
func Timestamp(t time.Time) string { return t.Format("2006-01-02 15:04:05") }

func boolWord(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
