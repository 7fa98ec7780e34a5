package coordinator

import (
	"fmt"
	"time"

	"github.com/sparklernet/hostcore/internal/hosterrors"
	"github.com/sparklernet/hostcore/internal/sparkplug"
)

const (
	nodeControlRebirth    = "Node Control/Rebirth"
	deviceControlRebirth  = "Device Control/Rebirth"
	nodeControlScanRate   = "Node Control/Scan Rate"
	deviceControlScanRate = "Device Control/Scan Rate"
)

// PublishEdgeNodeCommand builds the NCMD topic for (groupID, edgeNodeID)
// and publishes the encoded payload, QoS 1, not retained.
func (c *Coordinator) PublishEdgeNodeCommand(groupID, edgeNodeID string, payload sparkplug.Payload) error {
	if err := validateIdentifiers(groupID, edgeNodeID); err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/%s/NCMD/%s", namespace, groupID, edgeNodeID)
	return c.publish(topic, sparkplug.EncodePayload(sparkplug.NCMD, &payload))
}

// PublishDeviceCommand builds the DCMD topic for (groupID, edgeNodeID,
// deviceID) and publishes the encoded payload, QoS 1, not retained.
func (c *Coordinator) PublishDeviceCommand(groupID, edgeNodeID, deviceID string, payload sparkplug.Payload) error {
	if err := validateIdentifiers(groupID, edgeNodeID, deviceID); err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/%s/DCMD/%s/%s", namespace, groupID, edgeNodeID, deviceID)
	return c.publish(topic, sparkplug.EncodePayload(sparkplug.DCMD, &payload))
}

// RequestNodeRebirth publishes the Node Control/Rebirth convenience
// command.
func (c *Coordinator) RequestNodeRebirth(groupID, edgeNodeID string) error {
	return c.PublishEdgeNodeCommand(groupID, edgeNodeID, rebirthPayload(nodeControlRebirth))
}

// RequestDeviceRebirth publishes the Device Control/Rebirth convenience
// command.
func (c *Coordinator) RequestDeviceRebirth(groupID, edgeNodeID, deviceID string) error {
	return c.PublishDeviceCommand(groupID, edgeNodeID, deviceID, rebirthPayload(deviceControlRebirth))
}

// SetNodeScanRate publishes the Node Control/Scan Rate convenience
// command. ms must be > 0.
func (c *Coordinator) SetNodeScanRate(groupID, edgeNodeID string, ms int64) error {
	payload, err := scanRatePayload(nodeControlScanRate, ms)
	if err != nil {
		return err
	}
	return c.PublishEdgeNodeCommand(groupID, edgeNodeID, payload)
}

// SetDeviceScanRate publishes the Device Control/Scan Rate convenience
// command. ms must be > 0.
func (c *Coordinator) SetDeviceScanRate(groupID, edgeNodeID, deviceID string, ms int64) error {
	payload, err := scanRatePayload(deviceControlScanRate, ms)
	if err != nil {
		return err
	}
	return c.PublishDeviceCommand(groupID, edgeNodeID, deviceID, payload)
}

func rebirthPayload(metricName string) sparkplug.Payload {
	return sparkplug.Payload{
		Timestamp: time.Now().UnixMilli(),
		Seq:       -1,
		Metrics: []sparkplug.Metric{
			{Name: metricName, DataType: sparkplug.DataTypeBoolean, Value: true},
		},
	}
}

func scanRatePayload(metricName string, ms int64) (sparkplug.Payload, error) {
	if ms <= 0 {
		return sparkplug.Payload{}, hosterrors.Wrap(hosterrors.ErrInvalidArgument, "scan rate must be > 0")
	}
	return sparkplug.Payload{
		Timestamp: time.Now().UnixMilli(),
		Seq:       -1,
		Metrics: []sparkplug.Metric{
			{Name: metricName, DataType: sparkplug.DataTypeInt64, Value: ms},
		},
	}, nil
}

func validateIdentifiers(ids ...string) error {
	for _, id := range ids {
		if err := sparkplug.ValidateIdentifier(id); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) publish(topic string, body []byte) error {
	tok := c.client.Publish(topic, 1, false, body)
	if !tok.WaitTimeout(5 * time.Second) {
		return hosterrors.Wrap(hosterrors.ErrTransport, "publish timeout: "+topic)
	}
	if err := tok.Error(); err != nil {
		return hosterrors.Wrap(hosterrors.ErrTransport, "publish "+topic+": "+err.Error())
	}
	return nil
}
