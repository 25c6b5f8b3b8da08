package logger

import "go.uber.org/zap"

// Asynq adapts zap to the asynq.Logger interface.
type Asynq struct {
	s *zap.SugaredLogger
}

func NewAsynq(l *zap.Logger) *Asynq {
	return &Asynq{s: l.Named("asynq").Sugar()}
}

func (a *Asynq) Debug(args ...interface{}) { a.s.Debug(args...) }
func (a *Asynq) Info(args ...interface{})  { a.s.Info(args...) }
func (a *Asynq) Warn(args ...interface{})  { a.s.Warn(args...) }
func (a *Asynq) Error(args ...interface{}) { a.s.Error(args...) }
func (a *Asynq) Fatal(args ...interface{}) { a.s.Fatal(args...) }
