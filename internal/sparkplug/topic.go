package sparkplug

import (
	"strings"

	"github.com/sparklernet/hostcore/internal/hosterrors"
)

// parseTopic parses a raw inbound topic into its component parts,
// supporting both Sparkplug grammars:
//
//	<ns>/<group_id>/<message_type>/<edge_node_id>[/<device_id>]
//	<ns>/STATE/<host_id>
//
// It fails with hosterrors.ErrUnsupportedTopic when the topic matches
// neither pattern or the message_type token is not recognised.
func parseTopic(topic string) (ParsedTopic, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return ParsedTopic{}, hosterrors.Wrap(hosterrors.ErrUnsupportedTopic, "topic has too few segments: "+topic)
	}

	ns := parts[0]
	if !strings.EqualFold(ns, "spBv1.0") {
		return ParsedTopic{}, hosterrors.Wrap(hosterrors.ErrUnsupportedTopic, "unrecognised namespace: "+ns)
	}
	version := "v3.0.0"

	if strings.EqualFold(parts[1], "STATE") {
		if len(parts) != 3 {
			return ParsedTopic{}, hosterrors.Wrap(hosterrors.ErrUnsupportedTopic, "malformed STATE topic: "+topic)
		}
		hostID := parts[2]
		if err := validateIdentifier(hostID); err != nil {
			return ParsedTopic{}, err
		}
		return ParsedTopic{Version: version, Type: STATE, HostID: hostID}, nil
	}

	if len(parts) != 4 && len(parts) != 5 {
		return ParsedTopic{}, hosterrors.Wrap(hosterrors.ErrUnsupportedTopic, "malformed Sparkplug topic: "+topic)
	}
	mt, ok := canonicalMessageType(parts[2])
	if !ok {
		return ParsedTopic{}, hosterrors.Wrap(hosterrors.ErrUnsupportedTopic, "unrecognised message type: "+parts[2])
	}

	groupID := parts[1]
	edgeNodeID := parts[3]
	var deviceID string
	if len(parts) == 5 {
		deviceID = parts[4]
	}
	if err := validateIdentifier(groupID); err != nil {
		return ParsedTopic{}, err
	}
	if err := validateIdentifier(edgeNodeID); err != nil {
		return ParsedTopic{}, err
	}
	if deviceID != "" {
		if err := validateIdentifier(deviceID); err != nil {
			return ParsedTopic{}, err
		}
	}

	return ParsedTopic{
		Version:    version,
		Group:      groupID,
		Type:       mt,
		EdgeNodeID: edgeNodeID,
		DeviceID:   deviceID,
	}, nil
}

func canonicalMessageType(tok string) (MessageType, bool) {
	switch strings.ToUpper(tok) {
	case string(NBIRTH):
		return NBIRTH, true
	case string(NDEATH):
		return NDEATH, true
	case string(NDATA):
		return NDATA, true
	case string(DBIRTH):
		return DBIRTH, true
	case string(DDEATH):
		return DDEATH, true
	case string(DDATA):
		return DDATA, true
	case string(NCMD):
		return NCMD, true
	case string(DCMD):
		return DCMD, true
	default:
		return "", false
	}
}

// validateIdentifier enforces the non-empty, no +/#/ rule shared by
// group_id, edge_node_id, device_id and host_id.
func validateIdentifier(id string) error {
	if id == "" {
		return hosterrors.Wrap(hosterrors.ErrUnsupportedTopic, "empty identifier")
	}
	if strings.ContainsAny(id, "+/#") {
		return hosterrors.Wrap(hosterrors.ErrUnsupportedTopic, "identifier contains reserved character: "+id)
	}
	return nil
}

// ParseTopic is the exported entry point used by the Host Coordinator.
func ParseTopic(topic string) (ParsedTopic, error) {
	return parseTopic(topic)
}

// ValidateIdentifier is the exported form of the identifier rule used by
// command publication (group_id/edge_node_id/device_id must be
// non-empty and exclude +, / and #).
func ValidateIdentifier(id string) error {
	return validateIdentifier(id)
}
