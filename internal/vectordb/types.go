package vectordb

import (
	"fmt"
	"strings"
	"time"

	"github.com/Kocoro-lab/brandrag/internal/docstore"
)

// ContentType classifies the content a vector was generated from
type ContentType string

const (
	ContentBrandProfile ContentType = "brand_profile"
	ContentSocialMedia  ContentType = "social_media"
	ContentBlogPost     ContentType = "blog_post"
	ContentAdCampaign   ContentType = "ad_campaign"
	ContentSavedImage   ContentType = "saved_image"
	ContentOther        ContentType = "other"
)

// ParseContentType maps unknown values to ContentOther
func ParseContentType(s string) ContentType {
	switch ct := ContentType(strings.ToLower(strings.TrimSpace(s))); ct {
	case ContentBrandProfile, ContentSocialMedia, ContentBlogPost, ContentAdCampaign, ContentSavedImage:
		return ct
	}
	return ContentOther
}

// Persisted field names
const (
	fieldUserID           = "userId"
	fieldContentID        = "contentId"
	fieldContentType      = "contentType"
	fieldEmbedding        = "embedding"
	fieldTextContent      = "textContent"
	fieldSourceCollection = "sourceCollection"
	fieldSourceDocID      = "sourceDocId"
	fieldMetadata         = "metadata"

	metaCreatedAt   = "createdAt"
	metaUpdatedAt   = "updatedAt"
	metaVersion     = "version"
	metaPerformance = "performance"
)

const collectionSuffix = "/contentVectors"

// CollectionFor returns the collection holding userID's vectors
func CollectionFor(userID string) string {
	return "users/" + userID + collectionSuffix
}

// ownerOf extracts the user ID from a vector collection name
func ownerOf(collection string) (string, bool) {
	if !strings.HasPrefix(collection, "users/") || !strings.HasSuffix(collection, collectionSuffix) {
		return "", false
	}
	uid := strings.TrimSuffix(strings.TrimPrefix(collection, "users/"), collectionSuffix)
	if uid == "" || strings.Contains(uid, "/") {
		return "", false
	}
	return uid, true
}

// ContentVector is the persisted embedding of one piece of user content
type ContentVector struct {
	ID               string
	UserID           string
	ContentID        string
	ContentType      ContentType
	Embedding        []float32
	TextContent      string
	SourceCollection string
	SourceDocID      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Version          int
	Performance      *float64
	// Metadata holds every metadata field, reserved ones included
	Metadata map[string]interface{}
}

// CreateInput is what a caller supplies to store a new vector
type CreateInput struct {
	UserID           string                 `json:"userId"`
	ContentType      ContentType            `json:"contentType"`
	ContentID        string                 `json:"contentId"`
	TextContent      string                 `json:"textContent"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	SourceCollection string                 `json:"sourceCollection"`
	SourceDocID      string                 `json:"sourceDocId"`
}

func (v ContentVector) document() map[string]interface{} {
	return map[string]interface{}{
		fieldUserID:           v.UserID,
		fieldContentID:        v.ContentID,
		fieldContentType:      string(v.ContentType),
		fieldEmbedding:        v.Embedding,
		fieldTextContent:      v.TextContent,
		fieldSourceCollection: v.SourceCollection,
		fieldSourceDocID:      v.SourceDocID,
		fieldMetadata:         v.Metadata,
	}
}

func fromDocument(doc docstore.Document) (ContentVector, error) {
	str := func(k string) string {
		s, _ := doc.Data[k].(string)
		return s
	}
	v := ContentVector{
		ID:               doc.Ref.ID,
		UserID:           str(fieldUserID),
		ContentID:        str(fieldContentID),
		ContentType:      ContentType(str(fieldContentType)),
		TextContent:      str(fieldTextContent),
		SourceCollection: str(fieldSourceCollection),
		SourceDocID:      str(fieldSourceDocID),
		Version:          1,
	}
	if raw, ok := doc.Data[fieldEmbedding]; ok && raw != nil {
		vec, ok := docstore.Float32s(raw)
		if !ok {
			return v, fmt.Errorf("%s: malformed embedding", doc.Ref)
		}
		v.Embedding = vec
	}

	meta, _ := doc.Data[fieldMetadata].(map[string]interface{})
	if meta == nil {
		meta = map[string]interface{}{}
	}
	v.Metadata = meta
	if t, ok := docstore.ParseTime(meta[metaCreatedAt]); ok {
		v.CreatedAt = t
	}
	if t, ok := docstore.ParseTime(meta[metaUpdatedAt]); ok {
		v.UpdatedAt = t
	}
	if n, ok := docstore.Float(meta[metaVersion]); ok && n >= 1 {
		v.Version = int(n)
	}
	if p, ok := docstore.Float(meta[metaPerformance]); ok {
		v.Performance = &p
	}
	return v, nil
}
