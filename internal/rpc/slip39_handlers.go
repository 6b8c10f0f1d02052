package rpc

func (s *Server) handleSLIP39SetGroupInfo(req *Request) (interface{}, *Error) {
	var p GroupInfoParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	sess, err := s.engine.GenerationSession(p.SessionID)
	if err != nil {
		return nil, errorFrom(err)
	}
	if err := sess.SetGroupInfo(p.GroupIndex, p.MemberCount, p.MemberThreshold); err != nil {
		return nil, errorFrom(err)
	}
	return &OKResult{OK: true}, nil
}

func (s *Server) handleSLIP39AddMember(req *Request) (interface{}, *Error) {
	var p AddMemberParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	sess, err := s.engine.GenerationSession(p.SessionID)
	if err != nil {
		return nil, errorFrom(err)
	}
	res, err := sess.AddMember(p.Passphrase)
	if err != nil {
		return nil, errorFrom(err)
	}
	return &MemberResult{
		Mnemonic: res.Mnemonic,
		Group:    res.Group,
		Done:     res.Done,
		Slot:     res.Slot,
	}, nil
}

func (s *Server) handleSLIP39AddMnemonic(req *Request) (interface{}, *Error) {
	var p AddMnemonicParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	sess, err := s.engine.RestoreSession(p.SessionID)
	if err != nil {
		return nil, errorFrom(err)
	}
	res, err := sess.AddMnemonic(p.Passphrase, p.Mnemonic)
	if err != nil {
		return nil, errorFrom(err)
	}
	return shareResult(res), nil
}

func (s *Server) handleSLIP39Status(_ *Request) (interface{}, *Error) {
	res := &SessionStatusResult{}
	if info, ok := s.engine.ActiveSession(); ok {
		res.Active = &info
	}
	if info, ok := s.engine.LostSession(); ok {
		res.Lost = &info
	}
	return res, nil
}

func (s *Server) handleSLIP39Cancel(req *Request) (interface{}, *Error) {
	var p SessionParam
	if err := parseOptionalParams(req, &p); err != nil {
		return nil, err
	}
	if err := s.engine.CancelSession(p.SessionID); err != nil {
		return nil, errorFrom(err)
	}
	return &OKResult{OK: true}, nil
}
