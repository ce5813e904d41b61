package score

// OutcomeKind classifies what a single point did to the match.
type OutcomeKind string

const (
	PointScored     OutcomeKind = "point"
	GameWon         OutcomeKind = "game"
	TieBreakStarted OutcomeKind = "tie_break"
	SetWon          OutcomeKind = "set"
	MatchWon        OutcomeKind = "match"
	// MatchAlreadyWon is returned when a point arrives after the match ended;
	// the state is left as it was.
	MatchAlreadyWon OutcomeKind = "match_over"
)

// Outcome describes the result of ApplyPoint.
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Winner Team        `json:"winner"`
}

// Concluded reports whether the point closed a game or more.
func (o Outcome) Concluded() bool {
	switch o.Kind {
	case GameWon, TieBreakStarted, SetWon, MatchWon:
		return true
	}
	return false
}

// ApplyPoint awards a point to winner and returns the successor state. The
// input state is never modified.
func ApplyPoint(state MatchState, cfg MatchConfig, winner Team) (MatchState, Outcome) {
	if state.Finished() {
		return state.Clone(), Outcome{Kind: MatchAlreadyWon, Winner: *state.Winner}
	}
	next := state.Clone()
	loser := winner.Opponent()

	gameWon := false
	if next.IsTieBreak {
		next.TieBreakPoints.Inc(winner)
		pW, pL := next.TieBreakPoints.Get(winner), next.TieBreakPoints.Get(loser)
		if pW >= 7 && pW-pL >= 2 {
			gameWon = true
			next.IsTieBreak = false
		}
	} else {
		pW, pL := next.Points.Get(winner), next.Points.Get(loser)
		switch {
		case pW == PointForty && pL == PointForty:
			if killerAt(next, cfg) {
				gameWon = true
			} else {
				next.Points.Set(winner, PointAdvantage)
			}
		case pW == PointAdvantage:
			gameWon = true
		case pL == PointAdvantage:
			next.Points = Pair{Us: PointForty, Them: PointForty}
			next.DeuceCount++
		case pW == PointForty:
			gameWon = true
		default:
			next.Points.Inc(winner)
		}
	}

	if !gameWon {
		return next, Outcome{Kind: PointScored, Winner: winner}
	}

	next.Points = Pair{}
	next.TieBreakPoints = Pair{}
	next.DeuceCount = 0
	next.Games.Inc(winner)

	gW, gL := next.Games.Get(winner), next.Games.Get(loser)
	if cfg.Rule66 != RuleProSet8 && gW == 6 && gL == 6 {
		next.IsTieBreak = true
		return next, Outcome{Kind: TieBreakStarted, Winner: winner}
	}
	if !setWon(gW, gL, cfg) {
		return next, Outcome{Kind: GameWon, Winner: winner}
	}

	next.Sets.Inc(winner)
	next.SetHistory = append(next.SetHistory, next.Games)
	next.Games = Pair{}
	if cfg.SetsToWin > 0 && next.Sets.Get(winner) >= cfg.SetsToWin {
		w := winner
		next.Winner = &w
		return next, Outcome{Kind: MatchWon, Winner: winner}
	}
	return next, Outcome{Kind: SetWon, Winner: winner}
}

func setWon(gW, gL int, cfg MatchConfig) bool {
	if gW >= cfg.GamesLimit() && gW-gL >= 2 {
		return true
	}
	if cfg.Rule66 == RuleProSet8 {
		return cfg.ProSetFirstToEight && gW == 8
	}
	return gW == 7 && gL == 6
}

// killerAt reports whether the next point at 40-40 decides the game.
func killerAt(s MatchState, cfg MatchConfig) bool {
	return cfg.DeuceMode == DeuceImmediateKiller || s.DeuceCount >= 2
}

// IsKillerPoint reports whether the current point is a sudden-death point.
func IsKillerPoint(s MatchState, cfg MatchConfig) bool {
	return !s.IsTieBreak && s.Points.Us == PointForty && s.Points.Them == PointForty && killerAt(s, cfg)
}
