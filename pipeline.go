package quic

import (
	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/internal/qerr"
	"github.com/quivy/quic/internal/wire"
)

// pipelineContext walks a packet through the inbound handler chain.
// Each stage continues the traversal by calling Next; a stage that doesn't
// short-circuits the pipeline.
type pipelineContext struct {
	conn     *connection
	handlers []InboundHandler
	index    int
}

var _ PipelineContext = &pipelineContext{}

func (c *pipelineContext) Next(p Packet) {
	if c.index >= len(c.handlers) {
		return
	}
	handler := c.handlers[c.index]
	c.index++
	handler.OnReceivePacket(p, c)
}

func (c *pipelineContext) Send(frames ...wire.Frame) (FullPacket, error) {
	return c.conn.Send(frames...)
}

func (c *pipelineContext) CloseConnection(code qerr.ErrorCode, frameType uint64, reason string) error {
	return c.conn.CloseConnection(code, frameType, reason)
}

func (c *pipelineContext) State() State              { return c.conn.State() }
func (c *pipelineContext) SetState(s State)          { c.conn.setState(s) }
func (c *pipelineContext) Version() protocol.Version { return c.conn.version }
