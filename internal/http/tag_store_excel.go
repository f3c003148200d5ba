package httpapi

import (
	"bytes"
	"fmt"
	"time"

	"github.com/spider10584329/hkanban-sub001/internal/identity"

	"github.com/xuri/excelize/v2"
)

// TagImportHeader 价签导入模板表头
var TagImportHeader = []string{
	"Tag MAC",
	"Name",
	"Location",
}

// TagExportHeader 价签库存导出表头
var TagExportHeader = []string{
	"Tag MAC",
	"Device Type",
	"Name",
	"Location",
	"Online",
	"Battery Level",
	"Bound",
	"Bound Goods ID",
	"Last Sync At",
}

const tagSheetName = "ESL Tags"

// GenerateTagImportTemplate 生成价签导入模板 Excel 文件（只有表头）
func GenerateTagImportTemplate() ([]byte, error) {
	return generateTagExcel(TagImportHeader, nil)
}

// GenerateTagExport 生成价签库存导出 Excel 文件
func GenerateTagExport(data []map[string]any) ([]byte, error) {
	return generateTagExcel(TagExportHeader, data)
}

func generateTagExcel(headers []string, data []map[string]any) ([]byte, error) {
	f := excelize.NewFile()
	// WriteTo 之前不能 Close

	index, err := f.NewSheet(tagSheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(tagSheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(tagSheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	columnWidths := []float64{
		20, // Tag MAC
		20, // Name / Device Type
		25, // Location / Name
		25, // Location
		10, // Online
		15, // Battery Level
		10, // Bound
		20, // Bound Goods ID
		20, // Last Sync At
	}
	for i := 0; i < len(headers); i++ {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if i < len(columnWidths) {
			if err := f.SetColWidth(tagSheetName, col, col, columnWidths[i]); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set column width: %w", err)
			}
		}
	}

	for rowIdx, item := range data {
		row := rowIdx + 2
		for colIdx, header := range headers {
			var value any
			switch header {
			case "Tag MAC":
				value = stringField(item, "device_id")
			case "Device Type":
				value = stringField(item, "device_type")
			case "Name":
				value = stringField(item, "name")
			case "Location":
				value = stringField(item, "location")
			case "Online":
				if v, ok := item["is_online"].(bool); ok && v {
					value = "Yes"
				} else {
					value = "No"
				}
			case "Battery Level":
				if v, ok := item["battery_level"].(int64); ok {
					value = v
				}
			case "Bound":
				if v, ok := item["bound"].(bool); ok && v {
					value = "Yes"
				} else {
					value = "No"
				}
			case "Bound Goods ID":
				value = stringField(item, "bound_goods_id")
			case "Last Sync At":
				value = timeField(item, "last_sync_at")
			}

			if value == nil || value == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(colIdx+1, row)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(tagSheetName, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell at row %d: %w", row, err)
			}
		}
	}

	// 冻结表头
	if err := f.SetPanes(tagSheetName, &excelize.Panes{
		Freeze:      true,
		Split:       false,
		XSplit:      0,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

// TagImportRow 导入文件中的一行
type TagImportRow struct {
	Mac      string // 小写规范形式
	Name     string
	Location string
}

// ParseTagImportWorkbook 解析上传的导入文件。
// 非法 MAC 的行记入 errors，合法行继续处理（部分成功）。
func ParseTagImportWorkbook(data []byte) ([]TagImportRow, []string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheet := tagSheetName
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		// 用户可能用自己的文件，取第一个工作表
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rows: %w", err)
	}

	var out []TagImportRow
	var errs []string
	for i, row := range rows {
		if i == 0 {
			// 表头
			continue
		}
		if len(row) == 0 || row[0] == "" {
			continue
		}
		mac := identity.NormalizeMacLower(row[0])
		if !identity.IsValidMac(mac) {
			errs = append(errs, fmt.Sprintf("row %d: invalid mac %q", i+1, row[0]))
			continue
		}
		item := TagImportRow{Mac: mac}
		if len(row) > 1 {
			item.Name = row[1]
		}
		if len(row) > 2 {
			item.Location = row[2]
		}
		out = append(out, item)
	}
	return out, errs, nil
}

func stringField(item map[string]any, key string) string {
	if v, ok := item[key].(string); ok {
		return v
	}
	return ""
}

func timeField(item map[string]any, key string) string {
	if v, ok := item[key].(time.Time); ok {
		return v.Format("2006-01-02 15:04:05")
	}
	if v, ok := item[key].(string); ok {
		return v
	}
	return ""
}
