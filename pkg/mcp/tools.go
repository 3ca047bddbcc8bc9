package mcp

import "github.com/mark3labs/mcp-go/mcp"

// registerTools registers all MCP tools with the server
func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("get_health",
			mcp.WithDescription("Check the health of the bridge and whether a board session is open"),
		),
		s.handleGetHealth,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("list_ports",
			mcp.WithDescription("List serial ports on the host. Ports behind a known USB-UART bridge (CP210x, CH340, FTDI, Espressif USB) are likely ESP32 boards."),
		),
		s.handleListPorts,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("connect",
			mcp.WithDescription("Open the serial session to the board. Without a port the configured one or the first USB bridge is used."),
			mcp.WithString("port",
				mcp.Description("Serial port path, e.g. /dev/ttyUSB0 or COM3"),
			),
			mcp.WithNumber("baud_rate",
				mcp.Description("Baud rate (default 115200)"),
			),
		),
		s.handleConnect,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("disconnect",
			mcp.WithDescription("Close the serial session"),
		),
		s.handleDisconnect,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_status",
			mcp.WithDescription("Get the connection status, port, chip and whether a flash is running"),
		),
		s.handleGetStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("detect_chip",
			mcp.WithDescription("Reset the board into its ROM loader to read the chip type and MAC address, then reset it back"),
		),
		s.handleDetectChip,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("send_command",
			mcp.WithDescription("Send a command to the mission firmware and wait for its acknowledgement"),
			mcp.WithString("type",
				mcp.Required(),
				mcp.Description("Command type, e.g. SET_MISSION"),
			),
			mcp.WithObject("payload",
				mcp.Description("Extra fields merged into the command, e.g. {\"missionId\": \"MISSION_1_BLINK\"}"),
			),
		),
		s.handleSendCommand,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("set_identity",
			mcp.WithDescription("Tell the firmware which learner is using the board. Connects first if needed."),
			mcp.WithString("user_id",
				mcp.Required(),
				mcp.Description("Learner user id"),
			),
		),
		s.handleSetIdentity,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("set_mission",
			mcp.WithDescription("Switch the firmware to a mission, by firmware id or by lesson level"),
			mcp.WithString("mission_id",
				mcp.Description("Firmware mission id, e.g. MISSION_2_LED_1K"),
			),
			mcp.WithNumber("level",
				mcp.Description("Lesson level 0-5"),
				mcp.Min(0),
				mcp.Max(5),
			),
		),
		s.handleSetMission,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("request_status",
			mcp.WithDescription("Ask the firmware to report its state. The answer arrives as telemetry."),
		),
		s.handleRequestStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_firmware_version",
			mcp.WithDescription("Ask the running firmware for its version. Blank boards report an empty version."),
		),
		s.handleGetFirmwareVersion,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_latest_telemetry",
			mcp.WithDescription("Get the most recent pin and sensor reading from the board"),
		),
		s.handleGetLatestTelemetry,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("flash_firmware",
			mcp.WithDescription("Erase the board and write the firmware described by a YAML manifest on this host. The learner must press RESET afterwards."),
			mcp.WithString("manifest",
				mcp.Required(),
				mcp.Description("Path to the firmware manifest"),
			),
		),
		s.handleFlashFirmware,
	)
}
