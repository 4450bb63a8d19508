package sml

import (
	"fmt"

	"github.com/smgw-cluster/segw-core/pkg/obis"
)

// Generator is the stateful SML request generator: it
// holds a (trx_root, counter) pair, accumulates one Message per emit call,
// and boxes them all into a single framed transmission.
type Generator struct {
	trxRoot string
	counter uint64
	pending []Message
}

// NewGenerator creates a Generator whose trx values are "trxRoot-n".
func NewGenerator(trxRoot string) *Generator {
	return &Generator{trxRoot: trxRoot}
}

// NextTrx returns the next transaction id and advances the counter.
func (g *Generator) NextTrx() string {
	g.counter++
	return fmt.Sprintf("%s-%d", g.trxRoot, g.counter)
}

func (g *Generator) append(choice BodyChoice, body MessageBody, groupNo, abortOnError uint8) string {
	trx := g.NextTrx()
	g.pending = append(g.pending, Message{
		Trx:          trx,
		GroupNo:      groupNo,
		AbortOnError: abortOnError,
		Choice:       choice,
		Body:         body,
	})
	return trx
}

// PublicOpen appends a PublicOpenReq and returns its trx.
func (g *Generator) PublicOpen(clientID, reqFileID, serverID, username, password []byte) string {
	return g.append(BodyPublicOpenReq, PublicOpenReq{
		Codepage:   []byte("ISO 8859-15"),
		ClientID:   clientID,
		ReqFileID:  reqFileID,
		ServerID:   serverID,
		Username:   username,
		Password:   password,
		SMLVersion: 1,
	}, 0, 0)
}

// PublicClose appends a PublicCloseReq and returns its trx.
func (g *Generator) PublicClose() string {
	return g.append(BodyPublicCloseReq, PublicCloseReq{}, 0, 0)
}

// GetProcParameter appends a GetProcParameterReq and returns its trx.
func (g *Generator) GetProcParameter(serverID, username, password []byte, path obis.Path) string {
	return g.append(BodyGetProcParameterReq, GetProcParameterReq{
		ServerID: serverID,
		Username: username,
		Password: password,
		Path:     path,
	}, 0, 0)
}

// SetProcParameter appends a SetProcParameterReq and returns its trx.
func (g *Generator) SetProcParameter(serverID, username, password []byte, path obis.Path, value Value) string {
	return g.append(BodySetProcParameterReq, SetProcParameterReq{
		ServerID: serverID,
		Username: username,
		Password: password,
		Path:     path,
		Value:    value,
	}, 0, 0)
}

// GetProfileList appends a GetProfileListReq and returns its trx.
func (g *Generator) GetProfileList(serverID, username, password []byte, class obis.Code, begin, end uint32) string {
	return g.append(BodyGetProfileListReq, GetProfileListReq{
		ServerID: serverID,
		Username: username,
		Password: password,
		Class:    class,
		Begin:    begin,
		End:      end,
	}, 0, 0)
}

// GetList appends a GetListReq and returns its trx.
func (g *Generator) GetList(serverID, username, password []byte, listName obis.Code) string {
	return g.append(BodyGetListReq, GetListReq{
		ServerID: serverID,
		Username: username,
		Password: password,
		ListName: listName,
	}, 0, 0)
}

// Pending reports how many messages are queued and not yet boxed.
func (g *Generator) Pending() int { return len(g.pending) }

// Boxing concatenates all accumulated messages with escape framing and
// returns the full byte string, clearing the internal list.
func (g *Generator) Boxing() []byte {
	out := Box(g.pending)
	g.pending = nil
	return out
}
