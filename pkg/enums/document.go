package enums

import "fmt"

// DocumentPriority grades a document delivery.
type DocumentPriority string

const (
	DocumentPriorityStandard DocumentPriority = "standard"
	DocumentPriorityUrgent   DocumentPriority = "urgent"
	DocumentPriorityCritical DocumentPriority = "critical"
)

var validDocumentPriorities = []DocumentPriority{
	DocumentPriorityStandard,
	DocumentPriorityUrgent,
	DocumentPriorityCritical,
}

// IsValid checks whether the given priority matches the canonical enum.
func (p DocumentPriority) IsValid() bool {
	for _, candidate := range validDocumentPriorities {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseDocumentPriority converts raw strings into DocumentPriority.
func ParseDocumentPriority(value string) (DocumentPriority, error) {
	for _, candidate := range validDocumentPriorities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid document priority %q", value)
}
