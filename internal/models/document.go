package models

import "time"

// ProjectRecord mirrors a project into Firestore so projects can be listed.
// The manifest stays authoritative; this record is rewritten from it.
type ProjectRecord struct {
	ProjectID      string    `firestore:"projectId" json:"projectId"`
	ManifestPath   string    `firestore:"manifestPath" json:"manifestPath"`
	ManifestURL    string    `firestore:"manifestUrl,omitempty" json:"manifestUrl,omitempty"`
	Status         string    `firestore:"status,omitempty" json:"status,omitempty"`
	SourceFilename string    `firestore:"sourceFilename,omitempty" json:"sourceFilename,omitempty"`
	PageCount      int       `firestore:"pageCount,omitempty" json:"pageCount,omitempty"`
	ErrorDetails   string    `firestore:"errorDetails,omitempty" json:"errorDetails,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt      time.Time `firestore:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}
