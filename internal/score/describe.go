package score

import "strconv"

// PointLabels maps regular point counts to their spoken values.
var PointLabels = [...]string{"0", "15", "30", "40"}

// PointLabel returns the conventional label for a point count; advantage is "AD".
func PointLabel(points int) string {
	if points >= 0 && points < len(PointLabels) {
		return PointLabels[points]
	}
	if points == PointAdvantage {
		return "AD"
	}
	return ""
}

// ScoreView is the display-oriented reading of a MatchState.
type ScoreView struct {
	TieBreak  bool   `json:"tie_break"`
	Deuce     bool   `json:"deuce"`
	Killer    bool   `json:"killer"`
	Advantage Team   `json:"advantage,omitempty"`
	Us        string `json:"us"`
	Them      string `json:"them"`
}

// Describe reports how the current point score should be read out.
func Describe(s MatchState, cfg MatchConfig) ScoreView {
	if s.IsTieBreak {
		return ScoreView{
			TieBreak: true,
			Us:       strconv.Itoa(s.TieBreakPoints.Us),
			Them:     strconv.Itoa(s.TieBreakPoints.Them),
		}
	}
	view := ScoreView{Us: PointLabel(s.Points.Us), Them: PointLabel(s.Points.Them)}
	switch {
	case s.Points.Us == PointForty && s.Points.Them == PointForty:
		view.Deuce = true
		view.Killer = killerAt(s, cfg)
	case s.Points.Us == PointAdvantage:
		view.Advantage = Us
	case s.Points.Them == PointAdvantage:
		view.Advantage = Them
	}
	return view
}
