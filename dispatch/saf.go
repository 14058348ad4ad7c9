package dispatch

import (
	"github.com/sirupsen/logrus"

	"github.com/embermesh/emberdht/envelope"
	"github.com/embermesh/emberdht/storeforward"
)

// handleRetrievalRequest answers a store-forward-request: the requester's
// applicable cached messages are returned in a store-forward-response
// addressed to its public key. The requester is identified by its origin, so
// unsigned requests are dropped.
func (d *Dispatcher) handleRetrievalRequest(m *Message) {
	if d.store == nil {
		return
	}

	origin := m.Envelope.Header.Origin
	if origin == nil {
		logrus.WithFields(logrus.Fields{
			"from": m.From.NodeID.String(),
		}).Debug("Dropping store-forward request without origin")
		return
	}

	req, err := storeforward.UnmarshalRequest(m.Body)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"from":  m.From.NodeID.String(),
			"error": err.Error(),
		}).Debug("Dropping malformed store-forward request")
		return
	}

	// Only messages tagged with the requester's own network are served;
	// cross-network leakage is a correctness violation.
	messages := d.store.Since(req.Since, m.Envelope.Header.Network)

	body, err := storeforward.MarshalResponse(storeforward.StoredMessagesResponse{Messages: messages})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Warn("Failed to encode store-forward response")
		return
	}

	logrus.WithFields(logrus.Fields{
		"requester": m.From.NodeID.String(),
		"messages":  len(messages),
	}).Debug("Serving store-forward request")

	err = d.Send(
		envelope.PublicKeyDestination(origin.PublicKey[:]),
		envelope.MessageTypeStoreForwardResponse,
		body,
		SendOptions{Sign: true},
	)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"requester": m.From.NodeID.String(),
			"error":     err.Error(),
		}).Debug("Failed to send store-forward response")
	}
}

// handleRetrievalResponse unpacks a store-forward-response and feeds every
// contained message back through the inbound path as if freshly received.
// Nothing is trusted merely because it arrived inside a response: each inner
// message is re-decoded and re-authenticated, so a tampered one is dropped
// exactly like a tampered original arrival.
func (d *Dispatcher) handleRetrievalResponse(m *Message) {
	resp, err := storeforward.UnmarshalResponse(m.Body)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"from":  m.From.NodeID.String(),
			"error": err.Error(),
		}).Debug("Dropping malformed store-forward response")
		return
	}

	logrus.WithFields(logrus.Fields{
		"from":     m.From.NodeID.String(),
		"messages": len(resp.Messages),
	}).Debug("Unpacking store-forward response")

	for _, stored := range resp.Messages {
		wire, err := envelope.Marshal(&envelope.Envelope{
			Header: stored.Header,
			Body:   stored.EncryptedBody,
		})
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error": err.Error(),
			}).Debug("Skipping unpacked message with unencodable header")
			continue
		}
		d.Receive(m.From, wire)
	}
}
