package handlers

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/ninho/pkg/api/types"
	"github.com/urmzd/ninho/pkg/device"
	"github.com/urmzd/ninho/pkg/firmware"
)

// maxUploadSize bounds a multipart firmware upload.
const maxUploadSize = 16 << 20

// FirmwareHandler handles the firmware version probe and flashing
type FirmwareHandler struct {
	controller device.Controller
	layout     []device.Segment
	expected   string
}

// NewFirmwareHandler creates a new firmware handler. Uploaded files are
// placed at the offset of the layout segment with the same name.
func NewFirmwareHandler(controller device.Controller, layout []device.Segment, expectedVersion string) *FirmwareHandler {
	if len(layout) == 0 {
		layout = firmware.DefaultLayout()
	}
	return &FirmwareHandler{controller: controller, layout: layout, expected: expectedVersion}
}

// Version handles GET /firmware/version
// @Summary      Firmware version
// @Description  Asks the running firmware for its version. A blank or older board that never answers reports an empty version.
// @Tags         firmware
// @Produce      json
// @Success      200  {object}  types.FirmwareVersionResponse
// @Failure      409  {object}  types.ErrorResponse  "Not connected"
// @Router       /firmware/version [get]
func (h *FirmwareHandler) Version(c *gin.Context) {
	v, err := h.controller.FirmwareVersion(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.FirmwareVersionResponse{
		Version:         v,
		Expected:        h.expected,
		UpdateAvailable: h.expected != "" && v != h.expected,
	})
}

// Flash handles POST /firmware/flash
// @Summary      Flash firmware
// @Description  Writes a firmware image. Send either multipart files (field "files", optional "offset_<filename>" overrides) or JSON naming a manifest on the bridge host. With Accept: text/event-stream progress is streamed as SSE.
// @Tags         firmware
// @Accept       multipart/form-data
// @Accept       json
// @Produce      json
// @Produce      text/event-stream
// @Param        files    formData  file                        false  "Segment binaries"
// @Param        request  body      types.FlashManifestRequest  false  "Manifest path"
// @Success      200      {object}  device.FlashResult
// @Failure      400      {object}  types.ErrorResponse  "Invalid firmware"
// @Failure      409      {object}  types.ErrorResponse  "Not connected or busy"
// @Failure      500      {object}  types.ErrorResponse  "Flash failed"
// @Router       /firmware/flash [post]
func (h *FirmwareHandler) Flash(c *gin.Context) {
	var img device.Image
	var err error
	if c.ContentType() == "multipart/form-data" {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)
		img, err = h.imageFromUpload(c)
	} else {
		img, err = imageFromManifest(c)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	log.Info().Int("segments", len(img.Segments)).Int("bytes", img.TotalSize()).Msg("Flash requested")

	if !strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		result, err := h.controller.FlashFirmware(c.Request.Context(), img, nil)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	startSSE(c)
	result, err := h.controller.FlashFirmware(c.Request.Context(), img, func(p device.FlashProgress) {
		sendSSEEvent(c.Writer, "progress", p)
		c.Writer.Flush()
	})
	if err != nil {
		sendSSEEvent(c.Writer, "error", ErrorBody(err))
	} else {
		sendSSEEvent(c.Writer, "done", result)
	}
	c.Writer.Flush()
}

func (h *FirmwareHandler) imageFromUpload(c *gin.Context) (device.Image, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return device.Image{}, fmt.Errorf("%w: %v", device.ErrInvalidFirmware, err)
	}

	files := form.File["files"]
	if len(files) == 0 {
		return device.Image{}, fmt.Errorf("%w: no files uploaded", device.ErrInvalidFirmware)
	}

	var img device.Image
	for _, fh := range files {
		name := filepath.Base(fh.Filename)
		seg := device.Segment{Name: name}

		if known, ok := h.find(name); ok {
			seg.Role, seg.Offset = known.Role, known.Offset
		} else if len(form.Value["offset_"+name]) == 0 {
			return device.Image{}, fmt.Errorf("%w: no offset known for %s", device.ErrInvalidFirmware, name)
		}
		if v := form.Value["offset_"+name]; len(v) > 0 {
			off, err := strconv.ParseUint(strings.TrimSpace(v[0]), 0, 32)
			if err != nil {
				return device.Image{}, fmt.Errorf("%w: bad offset %q for %s", device.ErrInvalidFirmware, v[0], name)
			}
			seg.Offset = uint32(off)
		}

		f, err := fh.Open()
		if err != nil {
			return device.Image{}, fmt.Errorf("%w: %s: %v", device.ErrInvalidFirmware, name, err)
		}
		seg.Data, err = io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return device.Image{}, fmt.Errorf("%w: %s: %v", device.ErrInvalidFirmware, name, err)
		}

		img.Segments = append(img.Segments, seg)
	}

	sort.SliceStable(img.Segments, func(i, j int) bool { return img.Segments[i].Offset < img.Segments[j].Offset })
	return img, nil
}

func (h *FirmwareHandler) find(name string) (device.Segment, bool) {
	for _, s := range h.layout {
		if s.Name == name {
			return s, true
		}
	}
	return device.Segment{}, false
}

func imageFromManifest(c *gin.Context) (device.Image, error) {
	var req types.FlashManifestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return device.Image{}, fmt.Errorf("%w: manifest path or multipart files required", device.ErrValidation)
	}

	m, err := firmware.LoadManifest(req.Manifest)
	if err != nil {
		return device.Image{}, fmt.Errorf("%w: %v", device.ErrInvalidFirmware, err)
	}
	return m.Image()
}
