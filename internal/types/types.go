package types

type Side string

type PositionStatus string

type CloseReason string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

const (
	PositionStatusOpen      PositionStatus = "open"
	PositionStatusClosed    PositionStatus = "closed"
	PositionStatusCancelled PositionStatus = "cancelled"
)

const (
	CloseReasonManual     CloseReason = "manual"
	CloseReasonStopLoss   CloseReason = "stop_loss"
	CloseReasonTakeProfit CloseReason = "take_profit"
	CloseReasonCancelled  CloseReason = "cancelled"
)

func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Direction is +1 for long exposure and -1 for short.
func (s Side) Direction() int64 {
	if s == SideShort {
		return -1
	}
	return 1
}

func (r CloseReason) Valid() bool {
	switch r {
	case CloseReasonManual, CloseReasonStopLoss, CloseReasonTakeProfit, CloseReasonCancelled:
		return true
	}
	return false
}
