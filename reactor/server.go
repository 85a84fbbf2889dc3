package reactor

import (
	"net"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/stack/woodpeckers/internal/netutil"
	"github.com/stack/woodpeckers/internal/registry"
)

const peerReadBufferSize = 1024

// AddServer creates a non-blocking TCP listener bound to 127.0.0.1:Port
// with backlog SOMAXCONN and registers it for read readiness. On any
// failure the socket is closed and no record is left behind.
func (r *Reactor) AddServer(desc ServerDescriptor) error {
	payload := &serverPayload{
		fd:                -1,
		port:              desc.Port,
		shouldAccept:      desc.ShouldAccept,
		didAccept:         desc.DidAccept,
		didReceiveData:    desc.DidReceiveData,
		peerDidDisconnect: desc.PeerDidDisconnect,
	}
	rec, inserted := r.servers.Insert(desc.ID, payload)
	if !inserted {
		r.logger.Warnf("reactor: duplicate server id %d ignored", desc.ID)
		return ErrDuplicateID
	}

	fd, err := listenTCP(desc.Port)
	if err != nil {
		r.servers.Discard(desc.ID)
		return errors.Wrap(err, "add server")
	}
	payload.fd = fd

	if err := r.backend.RegisterServerRead(fd, rec); err != nil {
		_ = closeFD(fd)
		r.servers.Discard(desc.ID)
		return errors.Wrap(err, "add server")
	}
	return nil
}

// HasServer reports whether id is currently a live server.
func (r *Reactor) HasServer(id uint16) bool {
	return r.servers.Has(id)
}

// RemoveServer drops every peer belonging to server id without invoking
// peerDidDisconnect, unregisters the listening fd, and queues the
// server record for the next drain, which closes the fd. Removing an
// absent id is a no-op.
func (r *Reactor) RemoveServer(id uint16) {
	rec, ok := r.servers.Get(id)
	if !ok || !rec.Active || rec.Pending {
		return
	}
	var toDrop []uint16
	r.peers.Each(func(p *registry.Record[*peerPayload]) {
		if p.Active && !p.Pending && p.Payload.serverID == id {
			toDrop = append(toDrop, p.ID)
		}
	})
	for _, peerID := range toDrop {
		r.peers.Remove(peerID)
	}
	_ = r.backend.UnregisterServerRead(rec.Payload.fd)
	r.servers.Remove(id)
}

func listenTCP(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, errors.Wrap(os.NewSyscallError("socket", err), "listen")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = closeFD(fd)
		return -1, errors.Wrap(os.NewSyscallError("setsockopt", err), "listen")
	}
	addr := unix.SockaddrInet4{Port: port}
	copy(addr.Addr[:], net.IPv4(127, 0, 0, 1).To4())
	if err := unix.Bind(fd, &addr); err != nil {
		_ = closeFD(fd)
		return -1, errors.Wrap(os.NewSyscallError("bind", err), "listen")
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = closeFD(fd)
		return -1, errors.Wrap(os.NewSyscallError("listen", err), "listen")
	}
	return fd, nil
}

// dispatchAccept handles read readiness on a listening fd: accept,
// optionally reject via ShouldAccept, then register the new peer fd.
func (r *Reactor) dispatchAccept(rec *registry.Record[*serverPayload]) {
	fd, sa, err := netutil.Accept(rec.Payload.fd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		r.logger.Debugf("reactor: accept on server %d failed: %v", rec.ID, err)
		return
	}
	remoteAddr, _ := netutil.SockaddrToTCPOrUnixAddr(sa).(*net.TCPAddr)

	if rec.Payload.shouldAccept != nil && !rec.Payload.shouldAccept(r, rec.ID, remoteAddr, r.ctx) {
		_ = closeFD(fd)
		return
	}

	peerID := r.nextPeerID()
	payload := &peerPayload{
		fd:                fd,
		serverID:          rec.ID,
		didReceiveData:    rec.Payload.didReceiveData,
		peerDidDisconnect: rec.Payload.peerDidDisconnect,
	}
	peerRec, inserted := r.peers.Insert(peerID, payload)
	if !inserted {
		// Unreachable in practice: nextPeerID only returns ids the peer
		// table reports as absent.
		_ = closeFD(fd)
		return
	}
	if err := r.backend.RegisterPeerRead(fd, peerRec); err != nil {
		_ = closeFD(fd)
		r.peers.Discard(peerID)
		r.logger.Debugf("reactor: register peer %d failed: %v", peerID, err)
		return
	}

	if rec.Payload.didAccept != nil {
		rec.Payload.didAccept(r, rec.ID, peerID, remoteAddr, r.ctx)
	}
}

// nextPeerID draws the next unused value from the reactor's
// monotonically increasing counter, skipping any value currently in use
// among peers (and the reserved StopID).
func (r *Reactor) nextPeerID() uint16 {
	for {
		candidate := uint16(r.peerCounter)
		r.peerCounter++
		if candidate == StopID {
			continue
		}
		if !r.peers.Has(candidate) {
			return candidate
		}
	}
}

// dispatchPeerRead handles read readiness on an accepted peer fd.
func (r *Reactor) dispatchPeerRead(rec *registry.Record[*peerPayload]) {
	if rec.Payload.buf == nil {
		rec.Payload.buf = make([]byte, peerReadBufferSize)
	}
	n, err := unix.Read(rec.Payload.fd, rec.Payload.buf)
	switch {
	case n > 0:
		if rec.Payload.didReceiveData != nil {
			rec.Payload.didReceiveData(r, rec.Payload.serverID, rec.ID, rec.Payload.buf[:n], r.ctx)
		}
	case n == 0:
		r.disconnectPeer(rec)
	default:
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		r.logger.Debugf("reactor: read on peer %d failed: %v", rec.ID, err)
		r.disconnectPeer(rec)
	}
}

// disconnectPeer removes the peer from the registry (visible to
// HasPeer-equivalent checks immediately), invokes peerDidDisconnect,
// then lets the drain step close the fd.
func (r *Reactor) disconnectPeer(rec *registry.Record[*peerPayload]) {
	cb := rec.Payload.peerDidDisconnect
	serverID, peerID := rec.Payload.serverID, rec.ID
	r.peers.Remove(peerID)
	if cb != nil {
		cb(r, serverID, peerID, r.ctx)
	}
}

func closeFD(fd int) error {
	return os.NewSyscallError("close", unix.Close(fd))
}
