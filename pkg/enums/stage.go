package enums

import "fmt"

// Stage identifies the conveyancing workflow stage an update belongs to.
type Stage string

const (
	StageDraftContract         Stage = "draft-contract"
	StageSearchesSurveys       Stage = "searches-surveys"
	StageEnquiries             Stage = "enquiries"
	StageMortgageOffer         Stage = "mortgage-offer"
	StageCompletionDate        Stage = "completion-date"
	StageContractExchange      Stage = "contract-exchange"
	StageRepliesToRequisitions Stage = "replies-to-requisitions"
	StageCompletion            Stage = "completion"
)

var validStages = []Stage{
	StageDraftContract,
	StageSearchesSurveys,
	StageEnquiries,
	StageMortgageOffer,
	StageCompletionDate,
	StageContractExchange,
	StageRepliesToRequisitions,
	StageCompletion,
}

// Stages returns every workflow stage in transaction order.
func Stages() []Stage {
	out := make([]Stage, len(validStages))
	copy(out, validStages)
	return out
}

// IsValid checks whether the given stage matches the canonical enum.
func (s Stage) IsValid() bool {
	for _, candidate := range validStages {
		if candidate == s {
			return true
		}
	}
	return false
}

// Interactive reports whether the stage hosts time-sensitive exchanges and
// therefore deserves the short poll interval.
func (s Stage) Interactive() bool {
	switch s {
	case StageCompletionDate, StageContractExchange, StageRepliesToRequisitions:
		return true
	}
	return false
}

// ParseStage converts raw strings into Stage.
func ParseStage(value string) (Stage, error) {
	for _, candidate := range validStages {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stage %q", value)
}
