package detector

import (
	"fmt"
	"strings"
)

// LabelLocalImage overrides the provenance classification of one container
// when set to "true" or "false".
const LabelLocalImage = "dockwarden.local-image"

// Classifier decides whether an image reference names a locally built image.
// Implementations must be pure functions of the reference.
type Classifier interface {
	IsLocallyBuilt(ref string) bool
}

// ClassifierFunc adapts a function to the Classifier interface
type ClassifierFunc func(ref string) bool

// IsLocallyBuilt calls f(ref)
func (f ClassifierFunc) IsLocallyBuilt(ref string) bool {
	return f(ref)
}

// HeuristicClassifier treats a reference without a registry path separator
// but with an underscore or dash as locally built, which is what compose
// generates for images it builds ("project_service", "project-service").
// The whole reference is inspected, so a tag such as "1.25-alpine" marks a
// single-segment image as local; it also misclassifies hand-named local
// images containing a slash. Use RepositoryClassifier or the
// LabelLocalImage label to correct either case.
type HeuristicClassifier struct{}

// IsLocallyBuilt implements Classifier
func (HeuristicClassifier) IsLocallyBuilt(ref string) bool {
	if strings.Contains(ref, "/") {
		return false
	}
	return strings.ContainsAny(ref, "_-")
}

// RepositoryClassifier applies the heuristic to the repository part of the
// reference only, ignoring tag and digest.
var RepositoryClassifier = ClassifierFunc(func(ref string) bool {
	return HeuristicClassifier{}.IsLocallyBuilt(Repository(ref))
})

// Classifier names accepted by ClassifierByName
const (
	ClassifierReference  = "reference"
	ClassifierRepository = "repository"
)

// ClassifierByName returns the classifier configured by name. An empty name
// selects the HeuristicClassifier.
func ClassifierByName(name string) (Classifier, error) {
	switch name {
	case "", ClassifierReference:
		return HeuristicClassifier{}, nil
	case ClassifierRepository:
		return RepositoryClassifier, nil
	}
	return nil, fmt.Errorf("bilinmeyen sınıflandırıcı: %s", name)
}

// Repository strips the tag and digest from an image reference
func Repository(ref string) string {
	if i := strings.Index(ref, "@"); i >= 0 {
		ref = ref[:i]
	}
	// a colon after the last slash separates the tag, one before it a
	// registry port
	if i := strings.LastIndex(ref, ":"); i >= 0 && !strings.Contains(ref[i:], "/") {
		ref = ref[:i]
	}
	return ref
}
