package scenario

// Default returns the built-in widget-factory scenario played when no other
// scenario is configured.
func Default() Definition {
	return Definition{
		Persona: Persona{
			Title:       "factory foreman",
			Description: "As the Factory Manager, your job is to interpret and explain key factory metrics in plain language to the team.",
			Setting:     "factory",
		},
		Scenario: Scenario{
			Description: "A factory produces widgets with varying efficiency based on worker skill, machine condition, and raw material quality. The factory has been operating for 5 years and has recently experienced some changes in production patterns.",
			Metrics: map[string]float64{
				"production_rate":     120,
				"defect_rate":         8,
				"worker_productivity": 25,
			},
			Targets: map[string]float64{
				"production_rate_target": 150,
			},
			Modifiers: map[string]string{},
		},
		MetricsGuide: Guides{
			"production_rate":     "The production rate is the number of widgets produced per hour.",
			"defect_rate":         "The defect rate is the percentage of defective widgets produced.",
			"worker_productivity": "Worker productivity is the average number of widgets produced per worker per hour.",
		},
		TargetsGuide: Guides{
			"production_rate_target": "The production rate target is the desired number of widgets to be produced per hour.",
		},
	}
}

// SoftwareTeam returns a second built-in scenario that exercises modifiers.
func SoftwareTeam() Definition {
	return Definition{
		Persona: Persona{
			Title:       "engineering manager",
			Description: "As the Engineering Manager, your job is to explain the team's delivery metrics in plain language to stakeholders.",
			Setting:     "software team",
		},
		Scenario: Scenario{
			Description: "A software development team is working on a critical project with tight deadlines. The team's performance varies based on several factors.",
			Metrics: map[string]float64{
				"development_speed": 75,
				"bug_count":         12,
				"team_morale":       65,
			},
			Targets: map[string]float64{
				"development_speed_target": 90,
				"bug_count_target":         5,
				"team_morale_target":       85,
			},
			Modifiers: map[string]string{
				"remote_work":       "The team recently switched to remote work, causing a temporary 10% decrease in development speed.",
				"new_tools":         "The team adopted new debugging tools that could reduce bug count by 30% if the team is properly trained.",
				"deadline_pressure": "Management recently moved up the deadline, causing increased stress and affecting team morale.",
			},
		},
		MetricsGuide: Guides{
			"development_speed": "Development speed is the number of story points completed per sprint.",
			"bug_count":         "Bug count is the number of open defects in the tracker.",
			"team_morale":       "Team morale is the score from the latest team survey, out of 100.",
		},
		TargetsGuide: Guides{
			"development_speed_target": "The story points per sprint needed to hit the deadline.",
			"bug_count_target":         "The maximum number of open defects acceptable for release.",
			"team_morale_target":       "The survey score management wants the team to reach.",
		},
	}
}

// Builtin returns the named built-in definition.
func Builtin(name string) (Definition, bool) {
	switch name {
	case "", "factory":
		return Default(), true
	case "software_team":
		return SoftwareTeam(), true
	}
	return Definition{}, false
}

// DefaultActions returns the built-in investment catalog for the hint flow.
func DefaultActions() Actions {
	return Actions{
		"ETF Investments": {
			Description: "An exchange-traded fund (ETF) is an investment fund that holds multiple underlying assets and can be bought and sold on an exchange, much like an individual stock. ETFs can be structured to track anything from the price of a commodity to a large and diverse collection of stocks, or specific investment strategies. ETF share prices fluctuate throughout the trading day, unlike mutual funds which only trade once a day after the market closes. ETFs offer low expense ratios and fewer brokerage commissions than buying stocks individually.",
			Impact:      "4% YoY growth",
			Risks:       "Market volatility",
		},
		"Government bonds": {
			Description: "A bond is a fixed-income instrument where individuals lend money to a government at a certain interest rate for an amount of time, and are repaid with interest in addition to the original face value. Bond prices are inversely correlated with interest rates: when rates go up, bond prices fall, and vice-versa. Bonds have maturity dates at which point the principal amount must be paid back in full or risk default.",
			Impact:      "2% YoY growth",
			Risks:       "Interest rate changes",
		},
		"Cryptocurrency": {
			Description: "A cryptocurrency is a digital or virtual currency secured by cryptography, which makes it nearly impossible to counterfeit or double-spend. Most cryptocurrencies exist on decentralized networks using blockchain technology, a distributed ledger enforced by a disparate network of computers, and are generally not issued by any central authority. Their disadvantages include price volatility, high energy consumption for mining activities, and use in criminal activities.",
			Impact:      "20% YoY growth",
			Risks:       "Market volatility",
		},
	}
}
