package session

func (s *Sweeper) RunOnce() bool { return s.runOnce() }
