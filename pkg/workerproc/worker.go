// Package workerproc implements the compute-worker role: a single-
// threaded server that sleeps proportionally to task size and replies.
package workerproc

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"edgedispatch/pkg/dispatch"
)

// Worker serves tasks strictly sequentially, grounded on
// original_source/src/bin/e_computer.rs. Sequential processing is
// load-bearing: it is what makes latency grow under contention, which
// is the signal the router's feedback loop consumes.
type Worker struct {
	speed uint64
	log   *logrus.Entry
}

// New builds a worker with the given speed, in millions of
// instructions per second (task sizes are in millions of instructions).
func New(speed uint64, log *logrus.Entry) *Worker {
	return &Worker{speed: speed, log: log}
}

// Serve accepts connections on ln one at a time, never starting the
// next accept until the current task has been fully handled.
func (w *Worker) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		w.handle(conn)
	}
}

func (w *Worker) handle(conn net.Conn) {
	defer conn.Close()

	raw, err := dispatch.ReadMessage(conn)
	if err != nil {
		w.log.WithError(err).Warn("worker read failed")
		return
	}
	task, err := dispatch.DecodeTask(raw)
	if err != nil {
		w.log.WithError(err).Warn("worker received malformed task")
		return
	}

	if w.speed > 0 {
		// Integer-seconds division, per spec.md §4.4: tasks smaller
		// than speed complete with zero sleep.
		time.Sleep(time.Duration(task.Size/w.speed) * time.Second)
	}

	reply, err := dispatch.EncodeResponse(dispatch.Response{ID: task.ID, Status: "success"})
	if err != nil {
		w.log.WithError(err).Error("encode response")
		return
	}
	if _, err := conn.Write(reply); err != nil {
		w.log.WithError(err).Warn("worker write failed")
	}
}
