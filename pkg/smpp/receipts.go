package smpp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// receiptDateLayout is the YYMMDDhhmm form used in receipt text.
const receiptDateLayout = "0601021504"

// DeliveryReceipt is the parsed form of the conventional receipt text
// carried in a deliver_sm with esm_class 0x04.
type DeliveryReceipt struct {
	MessageID  string
	Submitted  int
	Delivered  int
	SubmitDate time.Time
	DoneDate   time.Time
	Stat       string
	Err        string
	Text       string
}

// State maps the stat token to a message_state value.
func (r *DeliveryReceipt) State() uint8 {
	return MessageStateFromStat(r.Stat)
}

// String renders r in the de-facto receipt format.
func (r *DeliveryReceipt) String() string {
	errCode := r.Err
	if errCode == "" {
		errCode = "000"
	}
	text := r.Text
	if len(text) > 20 {
		text = text[:20]
	}
	return fmt.Sprintf("id:%s sub:%03d dlvrd:%03d submit date:%s done date:%s stat:%s err:%s text:%s",
		r.MessageID, r.Submitted, r.Delivered,
		r.SubmitDate.Format(receiptDateLayout), r.DoneDate.Format(receiptDateLayout),
		r.Stat, errCode, text)
}

var statByState = map[uint8]string{
	MessageStateEnroute:       "ENROUTE",
	MessageStateDelivered:     "DELIVRD",
	MessageStateExpired:       "EXPIRED",
	MessageStateDeleted:       "DELETED",
	MessageStateUndeliverable: "UNDELIV",
	MessageStateAccepted:      "ACCEPTD",
	MessageStateUnknown:       "UNKNOWN",
	MessageStateRejected:      "REJECTD",
}

// FormatAbsoluteTime renders t in the 16 character absolute time format
// (YYMMDDhhmmsstnnp) using UTC.
func FormatAbsoluteTime(t time.Time) string {
	t = t.UTC()
	return t.Format("060102150405") + strconv.Itoa(t.Nanosecond()/1e8) + "00+"
}

// StatFromMessageState returns the receipt stat token for a message_state.
func StatFromMessageState(state uint8) string {
	if s, ok := statByState[state]; ok {
		return s
	}
	return "UNKNOWN"
}

// MessageStateFromStat is the inverse of StatFromMessageState.
func MessageStateFromStat(stat string) uint8 {
	stat = strings.ToUpper(stat)
	for state, s := range statByState {
		if s == stat {
			return state
		}
	}
	return MessageStateUnknown
}

// ParseDeliveryReceipt parses the receipt text of dsm. Fields that are
// missing keep their zero value; only the id is required.
func ParseDeliveryReceipt(dsm *DeliverSM) (*DeliveryReceipt, error) {
	text := string(dsm.ShortMessage)
	if len(text) == 0 {
		if payload, ok := dsm.Options.Get(TagMessagePayload); ok {
			text = string(payload)
		}
	}
	r := parseReceiptText(text)
	if id, _ := dsm.Options.GetString(TagReceiptedMessageID); id != "" {
		r.MessageID = id
	}
	if r.MessageID == "" {
		return nil, fmt.Errorf("%w: delivery receipt has no message id", ErrInvalidField)
	}
	return r, nil
}

// parseReceiptText splits the receipt on its known keys. "submit date" and
// "done date" contain a space, so keys are located rather than split on
// whitespace.
func parseReceiptText(text string) *DeliveryReceipt {
	keys := []string{"id:", "sub:", "dlvrd:", "submit date:", "done date:", "stat:", "err:", "text:"}
	lower := strings.ToLower(text)

	type span struct {
		key   string
		start int
	}
	var found []span
	for _, k := range keys {
		idx := indexKey(lower, k)
		if idx >= 0 {
			found = append(found, span{key: k, start: idx})
		}
	}
	// order by position
	for i := 1; i < len(found); i++ {
		for j := i; j > 0 && found[j].start < found[j-1].start; j-- {
			found[j], found[j-1] = found[j-1], found[j]
		}
	}

	r := &DeliveryReceipt{}
	for i, f := range found {
		end := len(text)
		if i+1 < len(found) {
			end = found[i+1].start
		}
		value := text[f.start+len(f.key) : end]
		if f.key != "text:" {
			value = strings.TrimSpace(value)
		}
		switch f.key {
		case "id:":
			r.MessageID = value
		case "sub:":
			r.Submitted, _ = strconv.Atoi(value)
		case "dlvrd:":
			r.Delivered, _ = strconv.Atoi(value)
		case "submit date:":
			r.SubmitDate, _ = time.Parse(receiptDateLayout, value)
		case "done date:":
			r.DoneDate, _ = time.Parse(receiptDateLayout, value)
		case "stat:":
			r.Stat = strings.ToUpper(value)
		case "err:":
			r.Err = value
		case "text:":
			r.Text = value
		}
	}
	return r
}

// indexKey finds key at the start of text or after a space.
func indexKey(text, key string) int {
	from := 0
	for {
		idx := strings.Index(text[from:], key)
		if idx < 0 {
			return -1
		}
		idx += from
		if idx == 0 || text[idx-1] == ' ' {
			return idx
		}
		from = idx + 1
	}
}

// ReceiptedMessageID returns the message id a receipt refers to: the
// receipted_message_id TLV when present, else the id: token in the text.
func ReceiptedMessageID(dsm *DeliverSM) (string, bool) {
	if id, _ := dsm.Options.GetString(TagReceiptedMessageID); id != "" {
		return id, true
	}
	r := parseReceiptText(string(dsm.ShortMessage))
	return r.MessageID, r.MessageID != ""
}

// NewDeliveryReceipt builds a receipt deliver_sm addressed back to the
// original submitter. The receipt travels from the original destination to
// the original source.
func NewDeliveryReceipt(orig *SubmitSM, r *DeliveryReceipt) *DeliverSM {
	dsm := &DeliverSM{
		Source:       orig.Dest,
		Dest:         orig.Source,
		EsmClass:     EsmClassDeliveryReceipt,
		DataCoding:   DataCodingDefault,
		ShortMessage: []byte(r.String()),
	}
	dsm.Options.SetString(TagReceiptedMessageID, r.MessageID)
	dsm.Options.SetUint8(TagMessageStateOption, r.State())
	return dsm
}
