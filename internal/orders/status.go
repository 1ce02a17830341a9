package orders

import "github.com/cockroachdb/errors"

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusReturned   Status = "returned"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusConfirmed: true, StatusCancelled: true, StatusReturned: true},
	StatusConfirmed:  {StatusProcessing: true, StatusCancelled: true, StatusReturned: true},
	StatusProcessing: {StatusShipped: true, StatusCancelled: true, StatusReturned: true},
	StatusShipped:    {StatusDelivered: true, StatusCancelled: true, StatusReturned: true},
	StatusDelivered:  {StatusReturned: true},
	StatusCancelled:  {},
	StatusReturned:   {},
}

// ParseStatus accepts only the fixed enum.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := validNext[st]; !ok {
		return "", errors.Newf("unknown order status %q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return len(validNext[s]) == 0 && s.Valid()
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// StockCommitted reports whether an order in this status has had its stock
// decremented. Only pending orders never committed stock.
func (s Status) StockCommitted() bool {
	return s.Valid() && s != StatusPending
}
