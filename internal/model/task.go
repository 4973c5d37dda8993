package model

import "time"

// TaskStatus is the canonical status enumeration. Code 1 is reserved: the
// legacy mobile client numbered statuses 0/2/3/4 and we keep its wire values.
type TaskStatus int16

const (
	TaskStatusBidding   TaskStatus = 0
	TaskStatusAssigned  TaskStatus = 2
	TaskStatusCompleted TaskStatus = 3
	TaskStatusPaid      TaskStatus = 4
)

func (s TaskStatus) String() string {
	switch s {
	case TaskStatusBidding:
		return "BIDDING"
	case TaskStatusAssigned:
		return "ASSIGNED"
	case TaskStatusCompleted:
		return "COMPLETED"
	case TaskStatusPaid:
		return "PAID"
	default:
		return "UNKNOWN"
	}
}

// Task is a unit of work auctioned to the lowest bidder and paid from the
// team vault. LowestBidLamports starts at the reserve reward and only ever
// decreases while the task is in Bidding.
type Task struct {
	Address           string     `json:"task_address"`
	TeamAddress       string     `json:"team_address"`
	TaskID            uint64     `json:"task_id"`
	Creator           string     `json:"creator"`
	RewardLamports    int64      `json:"reward_lamports"`
	LowestBidLamports int64      `json:"lowest_bid_lamports"`
	LeadingBidder     string     `json:"leading_bidder,omitempty"`
	Assignee          string     `json:"assignee,omitempty"`
	Status            TaskStatus `json:"status"`
	AuctionEnd        time.Time  `json:"auction_end"`
	Bump              uint8      `json:"bump"`
	CreatedAt         *time.Time `json:"created_at,omitempty"`
}

// FinalizeResult reports auction settlement. AlreadyFinalized is a soft
// outcome: the task had already left Bidding and nothing changed.
type FinalizeResult struct {
	Task             *Task `json:"task"`
	AlreadyFinalized bool  `json:"already_finalized"`
}

// AssignResult reports explicit assignment. AlreadyAssigned is a soft
// outcome: the task was already assigned to the requested party.
type AssignResult struct {
	Task            *Task `json:"task"`
	AlreadyAssigned bool  `json:"already_assigned"`
}
