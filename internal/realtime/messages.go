package realtime

// Client message types.
const (
    MsgJoinEvent        = "join_event"
    MsgLeaveEvent       = "leave_event"
    MsgSelectSeat       = "select_seat"
    MsgLockSeat         = "lock_seat"
    MsgDeselectSeat     = "deselect_seat"
    MsgUnlockSeat       = "unlock_seat"
    MsgCheckoutComplete = "checkout_complete"
    MsgRequestSnapshot  = "request_snapshot"
)

// Replies sent only to the requesting connection.  Room broadcasts use
// the model.SeatEventType names.
const (
    MsgRoomSnapshot         = "room_snapshot"
    MsgSeatLockConfirmed    = "seat_lock_confirmed"
    MsgSeatLockFailed       = "seat_lock_failed"
    MsgSeatUnlockConfirmed  = "seat_unlock_confirmed"
    MsgSeatUnlockFailed     = "seat_unlock_failed"
    MsgCheckoutAcknowledged = "checkout_acknowledged"
    MsgError                = "error"
)

// ClientMessage is a frame sent by the browser.
type ClientMessage struct {
    Type      string   `json:"type"`
    RequestID string   `json:"request_id,omitempty"`
    EventID   uint64   `json:"event_id,omitempty"`
    SeatID    uint64   `json:"seat_id,omitempty"`
    SeatIDs   []uint64 `json:"seat_ids,omitempty"`
}

// ServerMessage is a frame sent to the browser.
type ServerMessage struct {
    Type      string      `json:"type"`
    RequestID string      `json:"request_id,omitempty"`
    EventID   uint64      `json:"event_id,omitempty"`
    SeatID    uint64      `json:"seat_id,omitempty"`
    Reason    string      `json:"reason,omitempty"`
    Error     string      `json:"error,omitempty"`
    Data      interface{} `json:"data,omitempty"`
}
