package ws

import (
	"compress/flate"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/gobwas/httphead"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsflate"
	"github.com/gobwas/ws/wsutil"

	"github.com/mixnetlabs/obscuratr/pkg/context"
)

// Connection is a websocket connection with permessage-deflate
// compression when the relay negotiates it at dial time.
type Connection struct {
	Conn           net.Conn
	compressed     bool
	controlHandler wsutil.FrameHandlerFunc
	reader         *wsutil.Reader
	writer         *wsutil.Writer
	flateReader    *wsflate.Reader
	flateWriter    *wsflate.Writer
	msgStateR      *wsflate.MessageState
	msgStateW      *wsflate.MessageState
}

func NewConnection(c context.T, url string, requestHeader http.Header) (*Connection, error) {
	dialer := ws.Dialer{
		Header: ws.HandshakeHeaderHTTP(requestHeader),
		Extensions: []httphead.Option{
			wsflate.DefaultParameters.Option(),
		},
	}
	conn, _, hs, err := dialer.Dial(c, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	state := ws.StateClientSide
	compressed := false
	for _, extension := range hs.Extensions {
		if string(extension.Name) == wsflate.ExtensionName {
			compressed = true
			state |= ws.StateExtended
			break
		}
	}

	wc := &Connection{
		Conn:           conn,
		compressed:     compressed,
		controlHandler: wsutil.ControlFrameHandler(conn, ws.StateClientSide),
		msgStateR:      &wsflate.MessageState{},
		msgStateW:      &wsflate.MessageState{},
	}
	wc.reader = &wsutil.Reader{
		Source:         conn,
		State:          state,
		OnIntermediate: wc.controlHandler,
		CheckUTF8:      false,
		Extensions:     []wsutil.RecvExtension{wc.msgStateR},
	}
	wc.writer = wsutil.NewWriter(conn, state, ws.OpText)
	wc.writer.SetExtensions(wc.msgStateW)
	if compressed {
		wc.msgStateR.SetCompressed(true)
		wc.msgStateW.SetCompressed(true)
		wc.flateReader = wsflate.NewReader(nil,
			func(r io.Reader) wsflate.Decompressor {
				return flate.NewReader(r)
			})
		wc.flateWriter = wsflate.NewWriter(nil,
			func(w io.Writer) wsflate.Compressor {
				fw, e := flate.NewWriter(w, 4)
				if e != nil {
					log.E.F("failed to create flate writer: %v", e)
				}
				return fw
			})
	}
	return wc, nil
}

// payloadWriter returns the writer the message body goes through and
// the step that seals it, folding the deflate wrapping into one place.
func (c *Connection) payloadWriter() (io.Writer, func() error) {
	if c.compressed && c.msgStateW.IsCompressed() {
		c.flateWriter.Reset(c.writer)
		return c.flateWriter, c.flateWriter.Close
	}
	return c.writer, func() error { return nil }
}

func (c *Connection) payloadReader() io.Reader {
	if c.compressed && c.msgStateR.IsCompressed() {
		c.flateReader.Reset(c.reader)
		return c.flateReader
	}
	return c.reader
}

func (c *Connection) WriteMessage(data []byte) error {
	w, seal := c.payloadWriter()
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := seal(); err != nil {
		return fmt.Errorf("failed to seal message: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

func (c *Connection) ReadMessage(cx context.T, buf io.Writer) error {
	for {
		select {
		case <-cx.Done():
			return errors.New("context canceled")
		default:
		}

		h, err := c.reader.NextFrame()
		if err != nil {
			c.Conn.Close()
			return fmt.Errorf("failed to advance frame: %w", err)
		}
		if h.OpCode.IsControl() {
			if err = c.controlHandler(h, c.reader); err != nil {
				return fmt.Errorf("failed to handle control frame: %w", err)
			}
		} else if h.OpCode == ws.OpBinary || h.OpCode == ws.OpText {
			break
		}
		if err = c.reader.Discard(); err != nil {
			return fmt.Errorf("failed to discard: %w", err)
		}
	}

	if _, err := io.Copy(buf, c.payloadReader()); err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}
	return nil
}

func (c *Connection) Close() error {
	return c.Conn.Close()
}
