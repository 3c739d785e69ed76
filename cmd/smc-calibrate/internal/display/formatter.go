package display

import (
	"fmt"
	"math"
	"strings"

	"github.com/XiaoConstantine/smc-go/pkg/core"
)

const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorPurple = "\033[35m"
	ColorCyan   = "\033[36m"
)

// FormatPosterior renders the final population as a per-parameter summary
// table: weighted mean, weighted standard deviation and the 95% credible
// band under a normal approximation.
func FormatPosterior(names []string, history []*core.ParticleStep) string {
	var output strings.Builder

	final := history[len(history)-1]
	mean := final.WeightedMean()
	variance := final.WeightedVariance()

	output.WriteString(fmt.Sprintf("%s%sPosterior Summary%s\n", ColorBold, ColorBlue, ColorReset))
	output.WriteString(strings.Repeat("=", 50) + "\n")
	output.WriteString(fmt.Sprintf("%sStages:%s %d | %sParticles:%s %d | %sFinal ESS:%s %.1f\n\n",
		ColorCyan, ColorReset, len(history)-1,
		ColorCyan, ColorReset, final.Len(),
		ColorCyan, ColorReset, final.EffectiveSampleSize()))

	for i, name := range names {
		std := math.Sqrt(variance[i])
		output.WriteString(fmt.Sprintf("%s%s%s\n", ColorBold, name, ColorReset))
		output.WriteString(fmt.Sprintf("  %smean:%s %.6g\n", ColorGreen, ColorReset, mean[i]))
		output.WriteString(fmt.Sprintf("  %sstd:%s  %.6g\n", ColorYellow, ColorReset, std))
		output.WriteString(fmt.Sprintf("  %s95%%:%s  [%.6g, %.6g]\n",
			ColorCyan, ColorReset, mean[i]-1.96*std, mean[i]+1.96*std))
	}

	return output.String()
}

// FormatSchedule renders the tempering exponent trajectory.
func FormatSchedule(history []*core.ParticleStep) string {
	var output strings.Builder
	output.WriteString(fmt.Sprintf("%sTempering schedule:%s ", ColorPurple, ColorReset))
	for i, step := range history {
		if i > 0 {
			output.WriteString(" -> ")
		}
		output.WriteString(fmt.Sprintf("%.4g", step.Exponent()))
	}
	output.WriteString("\n")
	return output.String()
}
